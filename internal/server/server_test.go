package server

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

	"github.com/gorilla/websocket"

	"uploadai/internal/engine"
	"uploadai/internal/history"
	"uploadai/internal/logging"
	"uploadai/internal/media"
	"uploadai/internal/status"
	"uploadai/internal/testsupport"
	"uploadai/internal/upload"
	"uploadai/internal/workflow"
)

type fakeEngine struct{}

func (fakeEngine) Acquire(context.Context) (*engine.Instance, error) { return nil, nil }

func (fakeEngine) Loaded() bool { return true }

type fakeConverter struct{}

func (fakeConverter) Convert(ctx context.Context, video media.File, onProgress func(float64)) (media.AudioFile, error) {
	onProgress(1)
	return media.AudioFileFor(video, testsupport.MP3Fixture()), nil
}

type fakeUploader struct{}

func (fakeUploader) Upload(context.Context, media.AudioFile) (upload.Session, error) {
	return upload.Session{VideoID: "abc123"}, nil
}

func (fakeUploader) RequestTranscription(context.Context, upload.Session, string) error { return nil }

func newTestServer(t *testing.T, maxUpload int64) (*httptest.Server, *workflow.Session) {
	t.Helper()
	store, err := history.Open(context.Background())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	session, err := workflow.NewSession(workflow.Deps{
		Engine:    fakeEngine{},
		Converter: fakeConverter{},
		Uploader:  fakeUploader{},
		History:   store,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	srv, err := New(Deps{Session: session, History: store, Engine: fakeEngine{}, MaxUploadBytes: maxUpload}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		session.Close()
	})
	return ts, session
}

func postFile(t *testing.T, baseURL, name string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write(data)
	_ = writer.Close()
	resp, err := http.Post(baseURL+"/session/file", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post file: %v", err)
	}
	return resp
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func waitForState(t *testing.T, baseURL string, want status.State) SessionView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(baseURL + "/session")
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		view := decode[SessionView](t, resp)
		if view.State == want {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last %+v", want, view)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["engine_loaded"] != true || body["state"] != "waiting" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestSubmitFlow(t *testing.T) {
	ts, _ := newTestServer(t, 0)

	resp := postFile(t, ts.URL, "aula.mp4", testsupport.VideoFixture(128))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from select, got %d", resp.StatusCode)
	}
	view := decode[SessionView](t, resp)
	if view.File != "aula.mp4" || view.State != status.StateWaiting || view.LabelPT != "Carregar vídeo" {
		t.Fatalf("unexpected view %+v", view)
	}

	resp = postJSON(t, ts.URL+"/session/submit", `{"prompt":"intro, demo"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 from submit, got %d", resp.StatusCode)
	}
	accepted := decode[RunResponse](t, resp)
	if accepted.RunID == "" {
		t.Fatal("expected run id")
	}

	final := waitForState(t, ts.URL, status.StateSuccess)
	if final.VideoID != "abc123" {
		t.Fatalf("expected video id abc123, got %+v", final)
	}

	resp = postJSON(t, ts.URL+"/session/submit", `{}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 after success, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/runs?limit=5")
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	runs := decode[struct {
		Runs []history.Record `json:"runs"`
	}](t, resp)
	if len(runs.Runs) != 1 || runs.Runs[0].RunID != accepted.RunID || runs.Runs[0].Prompt != "intro, demo" {
		t.Fatalf("unexpected runs %+v", runs.Runs)
	}
}

func TestSubmitWithoutFile(t *testing.T) {
	ts, _ := newTestServer(t, 0)
	resp := postJSON(t, ts.URL+"/session/submit", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["error"] != workflow.ErrNoFile.Error() {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestRetryAndCancelWithoutRun(t *testing.T) {
	ts, _ := newTestServer(t, 0)
	resp := postJSON(t, ts.URL+"/session/retry", `{"prompt":"x"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 from retry, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/session/cancel", "")
	body := decode[map[string]bool](t, resp)
	if body["cancelled"] {
		t.Fatal("expected nothing to cancel")
	}
}

func TestSelectFileValidation(t *testing.T) {
	ts, _ := newTestServer(t, 16)

	resp := postFile(t, ts.URL, "big.mp4", testsupport.VideoFixture(64))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postFile(t, ts.URL, "empty.mp4", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty file, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/session/file", `{"file":"nope"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart body, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRunsLimitValidation(t *testing.T) {
	ts, _ := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/runs?limit=zero")
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSessionWebsocketStreamsSnapshots(t *testing.T) {
	ts, session := newTestServer(t, 0)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/session/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first status.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if first.State != status.StateWaiting {
		t.Fatalf("expected waiting first, got %s", first.State)
	}

	file, err := media.NewFile("aula.mp4", "video/mp4", testsupport.VideoFixture(64))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := session.Select(file); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, err := session.Submit(context.Background(), "intro"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	for {
		var snap status.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if snap.Seq <= first.Seq {
			t.Fatalf("expected increasing seq, got %d after %d", snap.Seq, first.Seq)
		}
		first = snap
		if snap.State == status.StateSuccess {
			if snap.VideoID != "abc123" {
				t.Fatalf("expected video id, got %+v", snap)
			}
			return
		}
	}
}
