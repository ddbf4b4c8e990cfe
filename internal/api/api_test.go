package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/ai/offline"
	"github.com/starford/ansuz/internal/expand"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/progress"
	"github.com/starford/ansuz/internal/studyservice"
	"github.com/starford/ansuz/internal/testutil"
)

// testEnv wires a temp storage root, SQLite index, offline collaborators,
// and the full router. authToken="" means auth disabled.
func testEnv(t *testing.T, authToken string) (*studyservice.Service, http.Handler) {
	t.Helper()

	store, backend := testutil.TestStore(t)
	broker := progress.NewBroker()
	t.Cleanup(broker.Close)

	jobs := pipeline.NewRegistry(time.Minute, broker, testutil.Logger())
	suite := offline.Suite()
	orch := pipeline.NewOrchestrator(store, backend, suite, jobs, broker, testutil.Logger())
	expander := expand.NewService(store, suite.Expander, testutil.Logger())
	svc := studyservice.NewService(orch, jobs, store, expander, backend)

	router := NewRouter(svc, authToken != "", authToken, broker)
	return svc, router
}

func multipartUpload(t *testing.T, content []byte, filename, kind string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if kind != "" {
		_ = mw.WriteField("kind", kind)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

// uploadAndWait submits content and polls the job until it reaches a
// terminal stage.
func uploadAndWait(t *testing.T, router http.Handler, content []byte, user string) (string, string) {
	t.Helper()
	body, ctype := multipartUpload(t, content, "lecture.txt", "")
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", ctype)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var acc UploadAccepted
	_ = json.Unmarshal(w.Body.Bytes(), &acc)
	if acc.JobID == "" || acc.ContentHash == "" {
		t.Fatalf("incomplete accept body: %s", w.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+acc.JobID, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("job status = %d", w.Code)
		}
		var snap JobSnapshot
		_ = json.Unmarshal(w.Body.Bytes(), &snap)
		if snap.Stage == "done" || snap.Stage == "error" {
			return acc.JobID, acc.ContentHash
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in stage %q", snap.Stage)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

var lecture = []byte(strings.Repeat("Cells divide through mitosis. The cell cycle has phases.\n\n", 8))

func TestUploadAndFetchArtifact(t *testing.T) {
	_, router := testEnv(t, "")

	_, hash := uploadAndWait(t, router, lecture, "alice")

	req := httptest.NewRequest(http.MethodGet, "/documents/"+hash, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("artifact status = %d", w.Code)
	}
	var artifact models.DerivedArtifact
	_ = json.Unmarshal(w.Body.Bytes(), &artifact)
	if artifact.ContentHash != hash {
		t.Errorf("content hash = %q", artifact.ContentHash)
	}
	if len(artifact.Topics) == 0 || len(artifact.Segments) == 0 {
		t.Error("artifact missing topics or segments")
	}

	req = httptest.NewRequest(http.MethodGet, "/documents/"+hash+"/transcript", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("transcript status = %d", w.Code)
	}
	var raw models.RawExtraction
	_ = json.Unmarshal(w.Body.Bytes(), &raw)
	if !strings.Contains(raw.Text, "mitosis") {
		t.Errorf("transcript text = %q", raw.Text)
	}
}

func TestArtifactNotFound(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/documents/"+strings.Repeat("0", 64), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	_, router := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("kind", "document")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestJobEventsStream(t *testing.T) {
	_, router := testEnv(t, "")

	jobID, _ := uploadAndWait(t, router, lecture, "alice")

	// The stream replays history, so subscribing after completion still
	// yields every stage through done.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := w.Body.String()
	for _, stage := range []string{"uploading", "preprocessing", "saving_output", "done"} {
		if !strings.Contains(body, `"stage":"`+stage+`"`) {
			t.Errorf("stream missing stage %q: %s", stage, body)
		}
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestExpansionRoundTrip(t *testing.T) {
	_, router := testEnv(t, "")
	_, hash := uploadAndWait(t, router, lecture, "alice")

	// Find a topic and bullet to expand.
	req := httptest.NewRequest(http.MethodGet, "/documents/"+hash, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var artifact models.DerivedArtifact
	_ = json.Unmarshal(w.Body.Bytes(), &artifact)

	var topicID, bullet string
	for id, topic := range artifact.Topics {
		if len(topic.BulletPoints) > 0 {
			topicID, bullet = id, topic.BulletPoints[0]
			break
		}
	}
	if topicID == "" {
		t.Fatal("no topic with bullets")
	}

	expandURL := "/documents/" + hash + "/topics/" + topicID + "/expansions"
	body, _ := json.Marshal(ExpansionRequest{Bullet: bullet})
	req = httptest.NewRequest(http.MethodPost, expandURL, bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expand status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ExpansionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Node == nil || resp.Node.Layer != 1 || resp.DepthCapped {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}

	// Drill one level deeper.
	parentKey := expand.KeyOf(topicID, "", bullet)
	body, _ = json.Marshal(ExpansionRequest{Bullet: resp.Node.ExpandedBullets[0], ParentKey: parentKey})
	req = httptest.NewRequest(http.MethodPost, expandURL, bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var deep ExpansionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &deep)
	if deep.Node == nil || deep.Node.Layer != 2 {
		t.Fatalf("layer-2 response: %s", w.Body.String())
	}

	// A third level is refused as depth-capped, still HTTP 200.
	childKey := expand.KeyOf(topicID, parentKey, resp.Node.ExpandedBullets[0])
	body, _ = json.Marshal(ExpansionRequest{Bullet: deep.Node.ExpandedBullets[0], ParentKey: childKey})
	req = httptest.NewRequest(http.MethodPost, expandURL, bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("capped status = %d", w.Code)
	}
	var capped ExpansionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &capped)
	if !capped.DepthCapped || capped.Node == nil || capped.Node.Layer != 2 {
		t.Errorf("capped response: %s", w.Body.String())
	}
}

func TestSearchAndStats(t *testing.T) {
	_, router := testEnv(t, "")
	uploadAndWait(t, router, lecture, "alice")

	req := httptest.NewRequest(http.MethodGet, "/search?q=mitosis", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var sr SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &sr)
	if len(sr.Results) != 1 {
		t.Errorf("results = %d, want 1", len(sr.Results))
	}

	req = httptest.NewRequest(http.MethodGet, "/search", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing query status = %d, want 400", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats StatsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.RawEntries != 1 || stats.DerivedEntries != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCacheCleanup(t *testing.T) {
	_, router := testEnv(t, "")
	uploadAndWait(t, router, lecture, "alice")

	body, _ := json.Marshal(CleanupRequest{MaxAgeHours: 1})
	req := httptest.NewRequest(http.MethodPost, "/cache/cleanup", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", w.Code)
	}
	var resp CleanupResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Removed != 0 {
		t.Errorf("removed = %d, fresh entries should survive", resp.Removed)
	}

	body, _ = json.Marshal(CleanupRequest{MaxAgeHours: 0})
	req = httptest.NewRequest(http.MethodPost, "/cache/cleanup", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero age status = %d, want 400", w.Code)
	}
}

func TestStorageUsagePerUser(t *testing.T) {
	_, router := testEnv(t, "")
	uploadAndWait(t, router, lecture, "alice")
	uploadAndWait(t, router, lecture, "bob")

	req := httptest.NewRequest(http.MethodGet, "/storage/usage", nil)
	req.Header.Set("X-User-ID", "alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("usage status = %d", w.Code)
	}
	var report UsageReport
	_ = json.Unmarshal(w.Body.Bytes(), &report)
	if report.PrivateObjects != 1 {
		t.Errorf("private objects = %d, want 1", report.PrivateObjects)
	}
	// raw + derived + meta, shared across both users.
	if report.SharedObjects != 3 {
		t.Errorf("shared objects = %d, want 3", report.SharedObjects)
	}
}

func TestAuthModes(t *testing.T) {
	_, router := testEnv(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}
