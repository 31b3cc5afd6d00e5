package cli_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	_ "fints-agent/internal/bank/simbank"
	"fints-agent/internal/cli"
	"fints-agent/internal/config"
	"fints-agent/internal/credentials"
)

const (
	testPIN       = "pin-4711"
	recipientIBAN = "DE41500105170123456789"
)

var pendingIDPattern = regexp.MustCompile(`Pending ID: (\S+)`)

type memSecrets map[string]string

func (m memSecrets) Get(service, account string) (string, error) {
	secret, ok := m[service+"/"+account]
	if !ok {
		return "", credentials.ErrSecretNotFound
	}
	return secret, nil
}

func (m memSecrets) Set(service, account, secret string) error {
	m[service+"/"+account] = secret
	return nil
}

func (m memSecrets) Delete(service, account string) error {
	delete(m, service+"/"+account)
	return nil
}

type result struct {
	code int
	out  string
	err  string
}

type CLITestSuite struct {
	suite.Suite
	dir       string
	cfgPath   string
	secrets   memSecrets
	prompts   []string
	promptErr error
}

func TestCLITestSuite(t *testing.T) {
	suite.Run(t, new(CLITestSuite))
}

func (s *CLITestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.cfgPath = filepath.Join(s.dir, "config.yaml")
	s.secrets = memSecrets{}
	s.prompts = nil
	s.promptErr = nil
}

// writeConfig sets up a sim bank login for alice with her PIN in the keychain.
func (s *CLITestSuite) writeConfig(options map[string]string) {
	cfg := config.DefaultConfig()
	cfg.Path = s.cfgPath
	cfg.Bank.UserID = "alice"
	cfg.Bank.Options = options
	s.Require().NoError(config.Save(cfg))
	s.secrets[config.DefaultKeychainService+"/alice"] = testPIN
}

func (s *CLITestSuite) run(stdin string, args ...string) result {
	var out, errOut bytes.Buffer
	app := &cli.App{
		In:      strings.NewReader(stdin),
		Out:     &out,
		Err:     &errOut,
		Secrets: s.secrets,
		SecretPrompt: func(label string) (string, error) {
			s.prompts = append(s.prompts, label)
			if s.promptErr != nil {
				return "", s.promptErr
			}
			return testPIN, nil
		},
		Version: "test",
	}
	code := app.Run(append([]string{"--config", s.cfgPath}, args...))
	return result{code: code, out: out.String(), err: errOut.String()}
}

func (s *CLITestSuite) senderIBAN() string {
	r := s.run("", "accounts", "--format", "json")
	s.Require().Equal(0, r.code, r.err)

	var overviews []struct {
		Account struct {
			IBAN string `json:"iban"`
		} `json:"account"`
	}
	s.Require().NoError(json.Unmarshal([]byte(r.out), &overviews))
	s.Require().Len(overviews, 2)
	return overviews[0].Account.IBAN
}

func (s *CLITestSuite) transferArgs(command string, extra ...string) []string {
	args := []string{
		command,
		"--from-iban", s.senderIBAN(),
		"--to-iban", recipientIBAN,
		"--to-name", "Max Mustermann",
		"--amount", "12.34",
		"--reason", "Invoice 123",
	}
	return append(args, extra...)
}

func (s *CLITestSuite) submit() string {
	r := s.run("", s.transferArgs("transfer-submit", "--yes")...)
	s.Require().Equal(0, r.code, r.err)
	match := pendingIDPattern.FindStringSubmatch(r.out)
	s.Require().Len(match, 2, r.out)
	return match[1]
}

func (s *CLITestSuite) TestProvidersList() {
	r := s.run("", "providers-list", "--search", "dkb")

	s.Equal(0, r.code, r.err)
	s.Contains(r.out, "dkb\t12030000\tDKB\thttps://fints.dkb.de/fints\n")
	s.Contains(r.out, "\nMatches: 1\n")
}

func (s *CLITestSuite) TestProvidersShow() {
	r := s.run("", "providers-show", "--provider", "50010517")
	s.Require().Equal(0, r.code, r.err)

	var p map[string]interface{}
	s.Require().NoError(json.Unmarshal([]byte(r.out), &p))
	s.Equal("ing", p["id"])
	s.Equal("https://fints.ing.de/fints/", p["fints_url"])

	r = s.run("", "providers-show", "--provider", "no such bank")
	s.Equal(2, r.code)
	s.Contains(r.err, "Error:")
}

func (s *CLITestSuite) TestInit() {
	r := s.run("", "init", "--provider", "ing", "--user-id", "bob")
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "Config saved at: "+s.cfgPath)

	cfg, err := config.Load(s.cfgPath)
	s.Require().NoError(err)
	s.Equal("50010517", cfg.Bank.BLZ)
	s.Equal("https://fints.ing.de/fints/", cfg.Bank.Server)
	s.Equal("bob", cfg.Bank.UserID)
	s.Equal("ing", cfg.Provider.ID)
}

func (s *CLITestSuite) TestInit_ProductIDFlag() {
	r := s.run("", "--product-id", "ABC123", "init", "--user-id", "bob")
	s.Require().Equal(0, r.code, r.err)

	cfg, err := config.Load(s.cfgPath)
	s.Require().NoError(err)
	s.Equal("ABC123", cfg.EffectiveProductID())
}

func (s *CLITestSuite) TestOnboard() {
	r := s.run("nosuchbank\ncomdirect\nbob\n", "onboard")
	s.Require().Equal(0, r.code, r.err)

	s.Contains(r.err, "nosuchbank")
	s.Contains(r.out, "Bank: comdirect")
	s.Contains(r.out, "PIN stored in keychain (service fints-agent-pin, account bob)")
	s.Equal(testPIN, s.secrets["fints-agent-pin/bob"])
	s.NotContains(r.out+r.err, testPIN)

	cfg, err := config.Load(s.cfgPath)
	s.Require().NoError(err)
	s.Equal("20041111", cfg.Bank.BLZ)
	s.Equal("bob", cfg.Bank.UserID)
}

func (s *CLITestSuite) TestKeychainSetup() {
	r := s.run("", "keychain-setup", "--user-id", "carol")
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "Keychain setup OK. Service=fints-agent-pin, Account=carol")
	s.Equal(testPIN, s.secrets["fints-agent-pin/carol"])

	r = s.run("", "--no-keychain", "keychain-setup", "--user-id", "carol")
	s.Equal(2, r.code)
}

func (s *CLITestSuite) TestAccountsAndTransactions() {
	s.writeConfig(nil)

	r := s.run("", "accounts", "--format", "tsv")
	s.Require().Equal(0, r.code, r.err)
	lines := strings.Split(strings.TrimSpace(r.out), "\n")
	s.Require().Len(lines, 3)
	s.Equal("iban\tbalance\tcurrency\tproduct", lines[0])
	s.True(strings.HasPrefix(lines[1], "DE"))

	r = s.run("", "transactions", "--iban", s.senderIBAN(), "--days", "14", "--format", "json")
	s.Require().Equal(0, r.code, r.err)
	var txs []map[string]interface{}
	s.Require().NoError(json.Unmarshal([]byte(r.out), &txs))

	r = s.run("", "transactions", "--format", "xml")
	s.Equal(2, r.code)
}

func (s *CLITestSuite) TestTransactions_NeedsAccountWhenSeveral() {
	s.writeConfig(nil)

	r := s.run("", "transactions")
	s.Equal(2, r.code)
}

func (s *CLITestSuite) TestCapabilities() {
	s.writeConfig(nil)

	r := s.run("", "capabilities")
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, `"backend": "sim"`)
	s.Contains(r.out, `"decoupled_supported": true`)
}

func (s *CLITestSuite) TestNoLoginConfigured() {
	r := s.run("", "accounts")
	s.Equal(2, r.code)
	s.Contains(r.err, "onboard")
}

func (s *CLITestSuite) TestNoPINAvailable() {
	s.writeConfig(nil)
	delete(s.secrets, "fints-agent-pin/alice")
	s.promptErr = errors.New("no terminal")

	r := s.run("", "accounts")
	s.Equal(3, r.code)
	s.Len(s.prompts, 1)
}

func (s *CLITestSuite) TestNoKeychainPrompts() {
	s.writeConfig(nil)

	r := s.run("", "--no-keychain", "accounts")
	s.Equal(0, r.code, r.err)
	s.NotEmpty(s.prompts)
}

func (s *CLITestSuite) TestTransferDryRun() {
	s.writeConfig(nil)

	r := s.run("", s.transferArgs("transfer", "--dry-run")...)
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "DRY-RUN OK (no order sent)")
	s.Contains(r.out, "Max Mustermann")

	r = s.run("", "transfer-list", "--all")
	s.Equal(0, r.code, r.err)
	s.Contains(r.out, "No pending transfers.")
}

func (s *CLITestSuite) TestTransferValidation() {
	s.writeConfig(nil)

	r := s.run("", s.transferArgs("transfer", "--yes", "--amount", "0")...)
	s.Equal(2, r.code)
	s.Contains(r.err, "amount must be > 0")
	s.NotContains(r.out, "Final result:")

	r = s.run("", "transfer", "--yes", "--to-iban", recipientIBAN)
	s.Equal(2, r.code)
	s.Contains(r.err, "--amount is required")
}

func (s *CLITestSuite) TestTransferSync() {
	s.writeConfig(map[string]string{"approve_after": "0"})

	r := s.run("", s.transferArgs("transfer", "--auto")...)
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "Final result:\nSUCCESS (reference SIM-")
	s.Contains(r.out, " - 0020 Order executed\n")
}

func (s *CLITestSuite) TestTransferConfirmDeclined() {
	s.writeConfig(nil)

	r := s.run("n\n", s.transferArgs("transfer")...)
	s.Equal(130, r.code)
	s.Contains(r.err, "Send transfer? [y/N]")

	r = s.run("", "transfer-list", "--all", "--format", "json")
	s.Equal("[]\n", r.out)
}

func (s *CLITestSuite) TestTransferCompletesAfterConfirmation() {
	s.writeConfig(map[string]string{"scenario": "complete"})

	r := s.run("y\n", s.transferArgs("transfer")...)
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "Final result:\nSUCCESS")
}

func (s *CLITestSuite) TestTransferRejected() {
	s.writeConfig(map[string]string{"scenario": "reject"})

	r := s.run("", s.transferArgs("transfer", "--yes")...)
	s.Equal(0, r.code, r.err)
	s.Contains(r.out, "Final result:\nREJECTED 9050 Insufficient funds\n")
}

func (s *CLITestSuite) TestTransferVoPAskedWithoutAuto() {
	s.writeConfig(map[string]string{"scenario": "vop", "approve_after": "0"})

	r := s.run("y\n", s.transferArgs("transfer", "--yes")...)
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.err, "Payee verification: close_match")
	s.Contains(r.out, "SUCCESS")
}

func (s *CLITestSuite) TestTransferTAN() {
	s.writeConfig(map[string]string{"scenario": "tan"})

	r := s.run("123456\n", s.transferArgs("transfer", "--yes")...)
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.err, "TAN method: SimTAN")
	s.Contains(r.out, "SUCCESS")
}

func (s *CLITestSuite) TestSubmitThenStatus() {
	s.writeConfig(map[string]string{"approve_after": "0"})

	r := s.run("", s.transferArgs("transfer-submit", "--yes")...)
	s.Require().Equal(0, r.code, r.err)
	match := pendingIDPattern.FindStringSubmatch(r.out)
	s.Require().Len(match, 2)
	id := match[1]
	s.Contains(r.out, "Check status: fints-agent transfer-status --id "+id+"\n")

	r = s.run("", "transfer-status", "--id", id)
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "Final result:\nSUCCESS (reference SIM-")

	// final records are answered from the store
	again := s.run("", "transfer-status", "--id", id)
	s.Equal(0, again.code)
	s.Equal(r.out, again.out)
}

func (s *CLITestSuite) TestStatusNotFinal() {
	s.writeConfig(nil)
	id := s.submit()

	r := s.run("", "transfer-status")
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "Pending ID "+id+": not final yet.\n")
	s.Contains(r.out, "fints-agent transfer-status --id "+id+" --wait")
}

func (s *CLITestSuite) TestStatusWaitTimesOut() {
	s.writeConfig(map[string]string{"approve_after": "5"})
	id := s.submit()

	r := s.run("", "transfer-status", "--id", id, "--wait", "--poll-timeout", "0s")
	s.Equal(6, r.code)
	s.Contains(r.out, "Pending ID "+id+": not final yet.")
	s.Contains(r.err, "approval still pending")
}

func (s *CLITestSuite) TestStatusDeclined() {
	s.writeConfig(map[string]string{"scenario": "decline", "approve_after": "0"})
	id := s.submit()

	r := s.run("", "transfer-status", "--id", id)
	s.Equal(7, r.code)
	s.Contains(r.out, "Final result:\nREJECTED 9942 Approval declined in app")
	s.NotContains(r.err, "Check status:")
}

func (s *CLITestSuite) TestStatusExpired() {
	s.writeConfig(map[string]string{"scenario": "expire", "approve_after": "0"})
	id := s.submit()

	r := s.run("", "transfer-status", "--id", id)
	s.Equal(8, r.code)
	s.Contains(r.out, "REJECTED expired")
}

func (s *CLITestSuite) TestStatusUnknownID() {
	s.writeConfig(nil)

	r := s.run("", "transfer-status", "--id", "does-not-exist")
	s.Equal(1, r.code)

	r = s.run("", "transfer-status")
	s.Equal(1, r.code)
	s.Contains(r.err, "no pending transfers found")
}

func (s *CLITestSuite) TestListAndDiscard() {
	s.writeConfig(nil)
	id := s.submit()

	r := s.run("", "transfer-list", "--format", "tsv")
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, id+"\tawaiting_approval\t")

	r = s.run("", "transfer-list", "--status", "bogus")
	s.Equal(2, r.code)

	r = s.run("", "transfer-discard", "--id", id)
	s.Equal(1, r.code)
	s.Contains(r.err, "--force")

	r = s.run("", "transfer-discard", "--id", id, "--force")
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "Discarded "+id)

	r = s.run("", "transfer-list", "--all", "--format", "json")
	s.Equal("[]\n", r.out)
}

func (s *CLITestSuite) TestResetLocal() {
	s.writeConfig(nil)
	s.submit()

	r := s.run("n\n", "reset-local")
	s.Equal(130, r.code)
	s.FileExists(s.cfgPath)

	r = s.run("", "reset-local", "-y", "--forget-pin")
	s.Require().Equal(0, r.code, r.err)
	s.Contains(r.out, "Removed "+s.cfgPath)
	s.NoFileExists(s.cfgPath)
	s.NoDirExists(filepath.Join(s.dir, "pending"))
	s.NotContains(s.secrets, "fints-agent-pin/alice")

	r = s.run("", "reset-local", "-y")
	s.Equal(0, r.code)
	s.Contains(r.out, "Nothing to remove.")
}

func (s *CLITestSuite) TestUnknownFlag() {
	r := s.run("", "accounts", "--bogus")
	s.Equal(2, r.code)
}

func (s *CLITestSuite) TestPINNeverPrinted() {
	s.writeConfig(map[string]string{"approve_after": "0"})

	var all strings.Builder
	for _, args := range [][]string{
		{"--debug", "accounts"},
		s.transferArgs("transfer", "--debug", "--auto"),
		{"--debug", "capabilities"},
	} {
		r := s.run("", args...)
		s.Equal(0, r.code, r.err)
		all.WriteString(r.out)
		all.WriteString(r.err)
	}

	s.NotEmpty(all.String())
	s.NotContains(all.String(), testPIN)
	data, err := os.ReadFile(s.cfgPath)
	s.Require().NoError(err)
	s.NotContains(string(data), testPIN)
}
