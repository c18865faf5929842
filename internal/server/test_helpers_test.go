package server

import (
	"bytes"
	contextpkg "context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/database"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/records"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

type stubSessions struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessions) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubAccounts struct {
	account accounts.Account
	err     error
}

func (s stubAccounts) ResolveAccount(contextpkg.Context, auth.SessionClaims) (accounts.Account, error) {
	return s.account, s.err
}

type apiHarness struct {
	handler http.Handler
	records *records.Service
	changes *ChangeFeed
}

func newRecordService(testContext *testing.T) (*records.Service, *accounts.Service) {
	testContext.Helper()
	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "remote.db"), records.Schema(), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	testContext.Cleanup(func() { _ = database.Close(db) })
	recordService, err := records.NewService(records.ServiceConfig{
		Database:   db,
		IDProvider: records.NewUUIDProvider(),
		Clock:      func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		testContext.Fatalf("failed to create record service: %v", err)
	}
	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to create account service: %v", err)
	}
	return recordService, accountService
}

func newAPIHarness(testContext *testing.T, account accounts.Account) apiHarness {
	testContext.Helper()
	gin.SetMode(gin.TestMode)
	recordService, _ := newRecordService(testContext)
	changes := NewChangeFeed(time.Hour)
	handler, err := NewHTTPHandler(Dependencies{
		Sessions: stubSessions{claims: auth.SessionClaims{PersonID: 7}},
		Accounts: stubAccounts{account: account},
		Records:  recordService,
		Changes:  changes,
	})
	if err != nil {
		testContext.Fatalf("failed to construct http handler: %v", err)
	}
	return apiHarness{handler: handler, records: recordService, changes: changes}
}

func (h apiHarness) post(testContext *testing.T, path string, body any) *httptest.ResponseRecorder {
	testContext.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		testContext.Fatalf("failed to encode body: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func observerAccount(programs ...string) accounts.Account {
	return accounts.Account{
		Person:           entities.Person{ID: entities.Int64(7)},
		Profiles:         []string{accounts.ProfileUser},
		WritablePrograms: programs,
	}
}

func supervisorAccount(programs ...string) accounts.Account {
	return accounts.Account{
		Person:           entities.Person{ID: entities.Int64(8)},
		Profiles:         []string{accounts.ProfileSupervisor},
		WritablePrograms: programs,
	}
}

func tripPayload(testContext *testing.T, id *int64, programLabel string) json.RawMessage {
	testContext.Helper()
	departure := time.Date(2024, 2, 27, 5, 0, 0, 0, time.UTC)
	trip := &entities.Trip{
		VesselID:          entities.Int64(1042),
		DepartureDateTime: &departure,
		DepartureLocation: &entities.Reference{ID: entities.Int64(3)},
	}
	trip.ID = id
	trip.Program = &entities.Program{Label: programLabel}
	raw, err := entities.Marshal(trip)
	if err != nil {
		testContext.Fatalf("failed to encode trip: %v", err)
	}
	return raw
}

func decodeTrip(testContext *testing.T, raw []byte) *entities.Trip {
	testContext.Helper()
	entity, err := entities.DefaultRegistry().Decode(entities.TripEntityName, raw)
	if err != nil {
		testContext.Fatalf("failed to decode trip: %v", err)
	}
	return entity.(*entities.Trip)
}
