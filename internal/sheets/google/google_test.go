package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"

	"ledgerbook/internal/sheets"
)

type recordedCall struct {
	method string
	path   string
	query  string
	body   string
}

func newFakeSheets(t *testing.T) (*Client, *[]recordedCall) {
	t.Helper()
	var mu sync.Mutex
	calls := []recordedCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recordedCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(body)})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, ":append"):
			json.NewEncoder(w).Encode(map[string]any{
				"spreadsheetId": "sheet-1",
				"updates":       map[string]any{"updatedRange": "Ledger!A1:L2", "updatedRows": 2},
			})
		case strings.HasSuffix(r.URL.Path, ":clear"):
			json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "clearedRange": "Ledger"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), Config{SpreadsheetID: "sheet-1", SheetName: "Ledger"}, nil,
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client, &calls
}

func TestAppendRows(t *testing.T) {
	client, calls := newFakeSheets(t)

	ref, err := client.AppendRows(context.Background(), [][]string{{"id", "amount"}, {"t1", "1234"}})
	require.NoError(t, err)
	assert.Equal(t, "Ledger!A1:L2", ref)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Contains(t, call.path, "/spreadsheets/sheet-1/values/")
	assert.Contains(t, call.query, "valueInputOption=RAW")
	assert.Contains(t, call.query, "insertDataOption=INSERT_ROWS")
	assert.Contains(t, call.body, `["t1","1234"]`)
}

func TestPublishClearsBeforeReplacing(t *testing.T) {
	client, calls := newFakeSheets(t)

	_, err := sheets.Publish(context.Background(), client, [][]string{{"id"}}, true)
	require.NoError(t, err)
	require.Len(t, *calls, 2)
	assert.True(t, strings.HasSuffix((*calls)[0].path, ":clear"))
	assert.True(t, strings.HasSuffix((*calls)[1].path, ":append"))
}

func TestNewClientRequiresSpreadsheetAndCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), Config{}, nil)
	assert.ErrorContains(t, err, "GOOGLE_SPREADSHEET_ID")

	_, err = NewClient(context.Background(), Config{SpreadsheetID: "x"}, nil)
	assert.ErrorContains(t, err, "credentials")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", " {} ")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/tmp/adc.json")

	cfg := ConfigFromEnv("sheet-1", "Ledger")
	assert.Equal(t, Config{SpreadsheetID: "sheet-1", SheetName: "Ledger", CredentialsJSON: "{}", CredentialsFile: "/tmp/adc.json"}, cfg)
}
