package entities

// QualityState is derived from the quality dates of a root entity.
type QualityState string

const (
	QualityStateModified   QualityState = "MODIFIED"
	QualityStateControlled QualityState = "CONTROLLED"
	QualityStateValidated  QualityState = "VALIDATED"
	QualityStateQualified  QualityState = "QUALIFIED"
)

// QualityFlagNotQualified is the flag of data that has not been qualified yet.
const QualityFlagNotQualified = 0

// QualityStateOf derives the quality state from the dates of root.
func QualityStateOf(root *RootData) QualityState {
	switch {
	case root == nil:
		return QualityStateModified
	case root.QualificationDate != nil && root.QualityFlagID != nil:
		return QualityStateQualified
	case root.ValidationDate != nil:
		return QualityStateValidated
	case root.ControlDate != nil:
		return QualityStateControlled
	default:
		return QualityStateModified
	}
}
