package entities

// PmfmEntityName is the referential type of scoped field definitions.
const PmfmEntityName = "Pmfm"

// Pmfm is one parameterized field definition attached to a program.
type Pmfm struct {
	Identity
	Label            string   `json:"label,omitempty"`
	Name             string   `json:"name,omitempty"`
	Type             string   `json:"type,omitempty"`
	Unit             string   `json:"unitLabel,omitempty"`
	ProgramLabel     string   `json:"programLabel,omitempty"`
	AcquisitionLevel string   `json:"acquisitionLevel,omitempty"`
	StrategyLabel    string   `json:"strategyLabel,omitempty"`
	GearIDs          []int64  `json:"gearIds,omitempty"`
	RankOrder        int      `json:"rankOrder,omitempty"`
	Required         bool     `json:"required,omitempty"`
	MinValue         *float64 `json:"minValue,omitempty"`
	MaxValue         *float64 `json:"maxValue,omitempty"`
}

func (*Pmfm) EntityName() string { return PmfmEntityName }

func (p *Pmfm) AsObject(opts AsObjectOptions) Entity {
	out := *p
	out.Identity = p.Identity.asObject(opts)
	out.GearIDs = append([]int64(nil), p.GearIDs...)
	return &out
}
