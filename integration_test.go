package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"fints-agent/internal/bank"
	"fints-agent/internal/bank/simbank"
	"fints-agent/internal/credentials"
	"fints-agent/internal/repository"
	"fints-agent/internal/server"
	"fints-agent/internal/service"
)

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer testcontainers.Container
	closeStore        func() error
	serverInstance    *server.Server
	baseURL           string
	client            *http.Client
	dbConnStr         string

	fromIBAN  string
	pendingID string
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	containerReq := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "fints_agent",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: containerReq,
		Started:          true,
	})
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = postgresContainer

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get container host: %s", err)
	}
	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		suite.T().Fatalf("Failed to get mapped port: %s", err)
	}

	suite.dbConnStr = fmt.Sprintf("host=%s port=%s user=postgres password=password dbname=fints_agent sslmode=disable",
		host, port.Port())

	if err := suite.startApplicationServer(ctx); err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}

	suite.client = &http.Client{
		Timeout: 60 * time.Second,
	}
}

func (suite *IntegrationTestSuite) startApplicationServer(ctx context.Context) error {
	logger := zerolog.Nop()

	pending, closeStore, err := repository.Open(ctx, repository.DriverPostgres, "", suite.dbConnStr, logger)
	if err != nil {
		return err
	}
	suite.closeStore = closeStore

	dialer, err := bank.NewDialer(simbank.BackendName, logger, map[string]string{"approve_after": "1"})
	if err != nil {
		return err
	}

	creds := credentials.Static(bank.Credentials{BLZ: "12030000", UserID: "integration", PIN: "12345"})
	caps := service.NewCapabilityService(logger)
	transfers := service.NewTransferService(dialer, creds, pending, caps, service.TransferConfig{
		PollInterval:    time.Second,
		PollTimeout:     30 * time.Second,
		MinPollInterval: time.Second,
	}, logger)

	suite.serverInstance = server.NewServer(server.Services{
		Transfers:   transfers,
		Accounts:    service.NewAccountService(dialer, creds, caps, logger),
		PollTimeout: 30 * time.Second,
		Backend:     simbank.BackendName,
	}, logger)

	if _, err := suite.serverInstance.Start("127.0.0.1:0"); err != nil {
		return err
	}
	suite.baseURL = suite.serverInstance.GetBaseURL()

	return suite.waitForServerReady()
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
	}
	if suite.closeStore != nil {
		suite.closeStore()
	}
	if suite.postgresContainer != nil {
		suite.postgresContainer.Terminate(ctx)
	}
}

// call performs a request and returns the status code and parsed envelope.
func (suite *IntegrationTestSuite) call(method, path string, body interface{}) (int, map[string]interface{}) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, suite.baseURL+path, reader)
	suite.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := suite.client.Do(req)
	suite.Require().NoError(err)
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	suite.T().Logf("%s %s -> %d %s", method, path, resp.StatusCode, respBody)

	var parsed map[string]interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			suite.T().Logf("Failed to parse response: %s", respBody)
		}
	}
	return resp.StatusCode, parsed
}

func (suite *IntegrationTestSuite) transferBody(mode string) map[string]interface{} {
	return map[string]interface{}{
		"from_iban": suite.fromIBAN,
		"to_iban":   "DE41500105170123456789",
		"to_name":   "Max Mustermann",
		"amount":    "42.00",
		"reason":    "Rent March",
		"mode":      mode,
	}
}

func dataOf(resp map[string]interface{}) map[string]interface{} {
	data, _ := resp["data"].(map[string]interface{})
	return data
}

// ------------------------------------------------------------------
// Steps below are helpers (non-test methods). They will be executed
// in the order invoked by TestFlow.
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) stepHealthCheck() {
	status, resp := suite.call(http.MethodGet, "/health", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "healthy", resp["status"])
	assert.Equal(suite.T(), "sim", resp["backend"])
}

func (suite *IntegrationTestSuite) stepPickAccount() {
	status, resp := suite.call(http.MethodGet, "/accounts", nil)
	suite.Require().Equal(http.StatusOK, status)

	accounts := resp["data"].([]interface{})
	suite.Require().Len(accounts, 2)
	account := accounts[0].(map[string]interface{})["account"].(map[string]interface{})
	suite.fromIBAN = account["iban"].(string)
	assert.True(suite.T(), strings.HasPrefix(suite.fromIBAN, "DE"))
}

func (suite *IntegrationTestSuite) stepSubmitAsync() {
	status, resp := suite.call(http.MethodPost, "/transfers", suite.transferBody("async_submit"))
	suite.Require().Equal(http.StatusAccepted, status)

	data := dataOf(resp)
	assert.Equal(suite.T(), "pending", data["kind"])
	suite.pendingID = data["pending_id"].(string)
	assert.Len(suite.T(), suite.pendingID, 10)
}

func (suite *IntegrationTestSuite) stepPollUntilApproved() {
	// approve_after=1: the first check is still pending
	status, resp := suite.call(http.MethodPost, "/pending/"+suite.pendingID+"/poll", nil)
	assert.Equal(suite.T(), http.StatusAccepted, status)
	assert.Equal(suite.T(), "pending", dataOf(resp)["kind"])

	status, resp = suite.call(http.MethodPost, "/pending/"+suite.pendingID+"/poll", nil)
	assert.Equal(suite.T(), http.StatusCreated, status)
	data := dataOf(resp)
	assert.Equal(suite.T(), "completed", data["kind"])
	reference, _ := data["bank_reference"].(string)
	assert.True(suite.T(), strings.HasPrefix(reference, "SIM-"))

	// terminal records answer from the store
	status, resp = suite.call(http.MethodPost, "/pending/"+suite.pendingID+"/poll?wait=true", nil)
	assert.Equal(suite.T(), http.StatusCreated, status)
	assert.Equal(suite.T(), reference, dataOf(resp)["bank_reference"])

	status, resp = suite.call(http.MethodGet, "/pending/"+suite.pendingID, nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	data = dataOf(resp)
	assert.Equal(suite.T(), "resolved", data["status"])
	assert.Equal(suite.T(), float64(2), data["poll_count"])
}

func (suite *IntegrationTestSuite) stepSyncTransfer() {
	status, resp := suite.call(http.MethodPost, "/transfers", suite.transferBody("sync"))
	assert.Equal(suite.T(), http.StatusCreated, status)
	assert.Equal(suite.T(), "completed", dataOf(resp)["kind"])
}

func (suite *IntegrationTestSuite) stepListAndDiscard() {
	status, resp := suite.call(http.MethodGet, "/pending?status=resolved", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Len(suite.T(), resp["data"], 2)

	status, _ = suite.call(http.MethodDelete, "/pending/"+suite.pendingID, nil)
	assert.Equal(suite.T(), http.StatusNoContent, status)

	status, resp = suite.call(http.MethodGet, "/pending/"+suite.pendingID, nil)
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "pending_not_found", resp["error"].(map[string]interface{})["code"])
}

func (suite *IntegrationTestSuite) stepValidationNeverReachesBank() {
	body := suite.transferBody("async_submit")
	body["amount"] = "0.00"

	status, resp := suite.call(http.MethodPost, "/transfers", body)
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	assert.Equal(suite.T(), "validation_error", resp["error"].(map[string]interface{})["code"])

	status, resp = suite.call(http.MethodGet, "/pending", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Len(suite.T(), resp["data"], 1)
}

func (suite *IntegrationTestSuite) TestFlow() {
	suite.stepHealthCheck()
	suite.stepPickAccount()
	suite.stepSubmitAsync()
	suite.stepPollUntilApproved()
	suite.stepSyncTransfer()
	suite.stepListAndDiscard()
	suite.stepValidationNeverReachesBank()
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
