package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/lotfolio/src/config"
	"github.com/username/lotfolio/src/database"
	"github.com/username/lotfolio/src/ledger"
	"github.com/username/lotfolio/src/logger"
	"github.com/username/lotfolio/src/parsers"
	"github.com/username/lotfolio/src/services"
	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	config.Cfg = &config.AppConfig{
		MaxUploadSizeBytes: 10 * 1024 * 1024,
		LotCodeLength:      6,
		LotCodeMaxRetries:  5,
	}
	os.Exit(m.Run())
}

func newHandlers(t *testing.T) (*ImportHandler, *LotsHandler) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.EnsureSchema(db))

	store := ledger.NewStore(db)
	_, err = store.CreateAccount("U123", 2026)
	require.NoError(t, err)

	service := services.NewImportService(
		parsers.NewStatementParser(), store,
		cache.New(5*time.Minute, 10*time.Minute), 6, 5)
	return NewImportHandler(service), NewLotsHandler(service)
}

const handlerStatement = `Statement,Data,Period,"February 2, 2026"
Account Information,Data,Account,U123
Net Asset Value,Data,Cash,100.00
Net Asset Value,Data,Total,15100.00
Open Positions,Data,Summary,Stocks,USD,AAPL,100,150.00
`

func multipartUpload(t *testing.T, statement string, confirm bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "statement.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(statement))
	require.NoError(t, err)
	if confirm {
		require.NoError(t, writer.WriteField("confirm", "true"))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/statements/import", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHandleImportPreviewThenConfirm(t *testing.T) {
	importHandler, lotsHandler := newHandlers(t)

	rec := httptest.NewRecorder()
	importHandler.HandleImport(rec, multipartUpload(t, handlerStatement, false))
	require.Equal(t, http.StatusOK, rec.Code)

	var preview services.PreviewResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.Equal(t, "U123", preview.AccountAlias)
	require.Len(t, preview.Stocks, 1)

	rec = httptest.NewRecorder()
	importHandler.HandleImport(rec, multipartUpload(t, handlerStatement, true))
	require.Equal(t, http.StatusOK, rec.Code)

	var confirm services.ConfirmResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirm))
	assert.NotEmpty(t, confirm.ImportID)
	assert.Equal(t, 1, confirm.PositionsSync.Added)

	rec = httptest.NewRecorder()
	lotsHandler.HandleGetStockLots(rec, httptest.NewRequest(http.MethodGet, "/api/lots/stocks?account=U123&year=2026", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestHandleImportErrorMapping(t *testing.T) {
	importHandler, _ := newHandlers(t)

	cases := []struct {
		name      string
		statement string
		status    int
	}{
		{
			name:      "structural error is a bad request",
			statement: "Account Information,Data,Account,U123\n",
			status:    http.StatusBadRequest,
		},
		{
			name: "unknown account is not found",
			statement: `Statement,Data,Period,"February 2, 2026"
Account Information,Data,Account,U999
Net Asset Value,Data,Cash,100
`,
			status: http.StatusNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			importHandler.HandleImport(rec, multipartUpload(t, tc.statement, false))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestHandleGetLotsETagRevalidation(t *testing.T) {
	importHandler, lotsHandler := newHandlers(t)

	rec := httptest.NewRecorder()
	importHandler.HandleImport(rec, multipartUpload(t, handlerStatement, true))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	lotsHandler.HandleGetStockLots(rec, httptest.NewRequest(http.MethodGet, "/api/lots/stocks?account=U123&year=2026", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/lots/stocks?account=U123&year=2026", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	lotsHandler.HandleGetStockLots(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestHandleGetLotsParamValidation(t *testing.T) {
	_, lotsHandler := newHandlers(t)

	rec := httptest.NewRecorder()
	lotsHandler.HandleGetStockLots(rec, httptest.NewRequest(http.MethodGet, "/api/lots/stocks?year=2026", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	lotsHandler.HandleGetStockLots(rec, httptest.NewRequest(http.MethodGet, "/api/lots/stocks?account=U123&year=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	lotsHandler.HandleGetOptionLots(rec, httptest.NewRequest(http.MethodGet, "/api/lots/options?account=U404&year=2026", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
