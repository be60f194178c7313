package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantsage/backend/internal/feedback"
	"github.com/plantsage/backend/internal/ingestion"
	"github.com/plantsage/backend/internal/query"
	"github.com/plantsage/backend/internal/retrieval"
	"github.com/plantsage/backend/internal/storage/models"
	"github.com/plantsage/backend/internal/synthesis"
	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/internal/vector/memory"
)

type fakeAsker struct {
	last query.Request
	err  error
}

func (f *fakeAsker) Ask(_ context.Context, req query.Request) (*query.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &query.Response{
		ID:   "q-1",
		Mode: req.Mode,
		Answer: &synthesis.Answer{
			Text:             "Set conditioner to 85C.",
			InternalSource:   "Source: Pellet SOP - Section: 3",
			GroundingPercent: "93",
			UsedExternal:     false,
			FollowUps:        []string{"What about steam quality?"},
			CitedChunkIDs:    []string{"doc-1-3"},
		},
	}, nil
}

type fakeHistoryReader struct{}

func (fakeHistoryReader) GetQueryHistory(_ context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	return []models.QueryRecord{{ID: "q-1", UserID: userID, QueryText: "temp?", GroundingMode: "strict", CreatedAt: time.Unix(0, 0)}}, nil
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) (int, map[string]any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func queryApp(asker *fakeAsker) *fiber.App {
	app := fiber.New()
	h := NewQueryHandler(asker, fakeHistoryReader{})
	app.Post("/query", h.HandleQuery)
	app.Get("/query/history", h.GetQueryHistory)
	return app
}

func TestHandleQueryResponseShape(t *testing.T) {
	asker := &fakeAsker{}
	status, body := doJSON(t, queryApp(asker), "POST", "/query",
		`{"user_id":"u1","query":"conditioner temp?","industry":"Feed Milling","sme_context":{"plant_name":"North","equipment":["CPM 7932"]}}`)

	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "q-1", body["id"])
	assert.Equal(t, "Set conditioner to 85C.", body["answer"])
	assert.Equal(t, []any{"Source: Pellet SOP - Section: 3", ""}, body["sources"])
	assert.Equal(t, []any{"93", "false"}, body["transparency"])
	assert.Equal(t, []any{"What about steam quality?"}, body["follow_up_questions"])
	assert.Equal(t, []any{"doc-1-3"}, body["used_chunk_ids"])

	assert.Equal(t, synthesis.ModeStrict, asker.last.Mode)
	require.NotNil(t, asker.last.Scope)
	assert.Equal(t, "Feed Milling", asker.last.Scope.Industry)
	assert.Equal(t, "North", asker.last.Scope.PlantName)
	assert.Equal(t, []string{"CPM 7932"}, asker.last.Scope.Equipment)
}

func TestHandleQueryModeSelection(t *testing.T) {
	asker := &fakeAsker{}
	app := queryApp(asker)

	status, _ := doJSON(t, app, "POST", "/query", `{"query":"q","use_external":true}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, synthesis.ModeHybrid, asker.last.Mode)
	assert.Nil(t, asker.last.Scope)

	status, _ = doJSON(t, app, "POST", "/query", `{"query":"q","use_external":true,"grounding_mode":"narrative"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, synthesis.ModeNarrative, asker.last.Mode)

	status, body := doJSON(t, app, "POST", "/query", `{"query":"q","grounding_mode":"creative"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "unsupported grounding mode")
}

func TestHandleQueryErrors(t *testing.T) {
	status, _ := doJSON(t, queryApp(&fakeAsker{}), "POST", "/query", `{"query":""}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	rerr := &retrieval.Error{Op: "query", Err: errors.New("milvus down")}
	status, body := doJSON(t, queryApp(&fakeAsker{err: rerr}), "POST", "/query", `{"query":"q"}`)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "Evidence retrieval failed", body["error"])

	status, _ = doJSON(t, queryApp(&fakeAsker{err: errors.New("boom")}), "POST", "/query", `{"query":"q"}`)
	assert.Equal(t, fiber.StatusInternalServerError, status)
}

func TestGetQueryHistory(t *testing.T) {
	app := queryApp(&fakeAsker{})
	status, _ := doJSON(t, app, "GET", "/query/history", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := doJSON(t, app, "GET", "/query/history?user_id=u1", "")
	require.Equal(t, fiber.StatusOK, status)
	history := body["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "temp?", history[0].(map[string]any)["query"])
}

func TestFeedbackDemotesAndReports(t *testing.T) {
	idx := memory.New(2)
	require.NoError(t, idx.Upsert(context.Background(), vector.Chunk{ID: "doc-1-3", Vector: []float32{1, 0}, Text: "x"}))
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	log, err := feedback.OpenJSONL(path, false)
	require.NoError(t, err)
	defer log.Close()

	h := NewFeedbackHandler(feedback.NewLoop(log, idx), path)
	app := fiber.New()
	app.Post("/feedback", h.SubmitFeedback)
	app.Get("/feedback/report", h.GetReport)

	status, body := doJSON(t, app, "POST", "/feedback",
		`{"question":"temp?","answer":"85C","feedback":"incorrect","comment":"wrong","used_chunk_ids":["doc-1-3","ghost"]}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "recorded", body["status"])
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, []any{"ghost"}, body["failed_chunk_ids"])

	c, _ := idx.Get("doc-1-3")
	assert.Equal(t, vector.StatusBad, c.Status)

	status, _ = doJSON(t, app, "POST", "/feedback", `{"feedback":"meh"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = doJSON(t, app, "GET", "/feedback/report", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["incorrect_count"])
}

type fakeIngester struct {
	doc        ingestion.DocumentInput
	readings   []ingestion.Reading
	annotation ingestion.Annotation
}

func (f *fakeIngester) UpsertDocument(_ context.Context, in ingestion.DocumentInput) ([]string, error) {
	f.doc = in
	return []string{"pellet-sop-1"}, nil
}

func (f *fakeIngester) IndexTimeSeries(_ context.Context, r []ingestion.Reading) ([]string, error) {
	f.readings = r
	return []string{"time_series_" + r[0].TagID}, nil
}

func (f *fakeIngester) IndexAnnotation(_ context.Context, a ingestion.Annotation) (string, error) {
	f.annotation = a
	return "annotation_" + a.ID, nil
}

func (f *fakeIngester) IndexRule(_ context.Context, r ingestion.Rule) (string, error) {
	return "rule_" + r.ID, nil
}

func documentApp(ing *fakeIngester) *fiber.App {
	app := fiber.New()
	h := NewDocumentHandler(ing)
	app.Post("/documents", h.UploadDocument)
	app.Post("/timeseries", h.UploadTimeSeries)
	app.Post("/annotations", h.CreateAnnotation)
	app.Post("/rules", h.CreateRule)
	return app
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadDocumentMultipart(t *testing.T) {
	ing := &fakeIngester{}
	app := documentApp(ing)

	resp, err := app.Test(multipartUpload(t, "Pellet SOP.html", "<body>hello</body>", map[string]string{"user_id": "u1", "industry": "Feed Milling"}))
	require.NoError(t, err)
	status, body := decode(t, resp)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []any{"pellet-sop-1"}, body["chunk_ids"])
	assert.Equal(t, "Pellet SOP", ing.doc.Name)
	assert.Equal(t, ingestion.FormatHTML, ing.doc.Format)
	assert.Equal(t, "u1", ing.doc.UserID)
	assert.Equal(t, "Feed Milling", ing.doc.Industry)

	resp, err = app.Test(multipartUpload(t, "manual.pdf", "%PDF", nil))
	require.NoError(t, err)
	status, _ = decode(t, resp)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestUploadDocumentJSON(t *testing.T) {
	ing := &fakeIngester{}
	status, _ := doJSON(t, documentApp(ing), "POST", "/documents", `{"text":"dryer manual","document_name":"Dryer","document_type":"manual"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "dryer manual", ing.doc.Text)
	assert.Equal(t, "manual", ing.doc.Type)

	status, _ = doJSON(t, documentApp(ing), "POST", "/documents", `{"text":"no name"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestEvidenceEndpoints(t *testing.T) {
	ing := &fakeIngester{}
	app := documentApp(ing)

	status, body := doJSON(t, app, "POST", "/timeseries",
		`{"readings":[{"timestamp":"2024-03-01T08:00:00Z","tag_id":"vib1","tag_label":"Vibration","value":2.5,"unit":"mm/s","min_range":0,"max_range":10}]}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []any{"time_series_vib1"}, body["chunk_ids"])
	require.Len(t, ing.readings, 1)
	assert.Equal(t, 2.5, ing.readings[0].Value)

	status, _ = doJSON(t, app, "POST", "/timeseries", `{"readings":[]}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = doJSON(t, app, "POST", "/annotations",
		`{"id":"12","tag_id":"vib1","timestamp":"2024-03-01T08:00:00Z","description":"Bearing replaced"}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "annotation_12", body["chunk_id"])

	status, _ = doJSON(t, app, "POST", "/rules", `{"id":"3","tag_id":"pressure"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestReady(t *testing.T) {
	app := fiber.New()
	app.Get("/ready", NewHealthHandler(map[string]Pinger{"sqlite": pinger{}, "redis": pinger{errors.New("down")}}).Ready)

	status, body := doJSON(t, app, "GET", "/ready", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, false, body["ready"])
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "\n", "c"}, splitIntoWords("a  b\nc"))
	assert.Empty(t, splitIntoWords(""))
}
