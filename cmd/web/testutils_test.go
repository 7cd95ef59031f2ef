package main

import (
	"bytes"
	"context"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/go-playground/form/v4"

	"furitingoasis/growroom/internal/camera"
	"furitingoasis/growroom/internal/controller"
	"furitingoasis/growroom/internal/models"
)

type fakeController struct {
	mu    sync.Mutex
	state models.SystemState
	cmds  []controller.Command
	err   error
}

func (f *fakeController) Execute(_ context.Context, cmd controller.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func (f *fakeController) Snapshot(context.Context) (models.SystemState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone(), nil
}

func (f *fakeController) last() controller.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cmds) == 0 {
		return nil
	}
	return f.cmds[len(f.cmds)-1]
}

type fakeUsers struct{}

func (fakeUsers) Insert(name, email, password string, admin bool) error {
	return nil
}

func (fakeUsers) Authenticate(email, password string) (int, error) {
	if email == "alice@example.com" && password == "pa$$word" {
		return 1, nil
	}
	return 0, models.ErrInvalidCredentials
}

func (fakeUsers) Exists(id int) (bool, error) {
	return id == 1, nil
}

func (fakeUsers) AdminExists() (bool, error) {
	return true, nil
}

type fakeImager struct {
	img []byte
	err error
}

func (f fakeImager) Image(context.Context) ([]byte, error) {
	return f.img, f.err
}

func newTestState() models.SystemState {
	s := models.NewSystemState()
	s.Lights[1] = 40
	s.StaticLights[1] = true
	s.LightSchedules[1] = models.LightSchedule{Enabled: true, StartTime: "06:00", DurationHours: 12, Brightness: 80}
	s.WateringDurations[1] = 30
	s.WateringDurations[2] = 60
	s.WateringAuto = models.AutoWatering{StartTime: "06:00"}
	s.SensorConfigs["s1"] = models.SensorConfig{Stage: 1, MinMoisture: 40, Active: true, MaxADC: 4095}
	s.Fan = models.FanState{TargetHumidity: 70, ControlActive: true}
	return s
}

func newTestApplication(t *testing.T) (*application, *fakeController) {
	t.Helper()

	templateCache, err := newTemplateCache()
	if err != nil {
		t.Fatal(err)
	}

	ctrl := &fakeController{state: newTestState()}
	app := &application{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		users:      fakeUsers{},
		controller: ctrl,
		cameras: map[string]camera.Imager{
			"cam1":  fakeImager{img: []byte{0xff, 0xd8, 0xff}},
			"empty": fakeImager{err: camera.ErrNoImage},
		},
		templateCache:  templateCache,
		formDecoder:    form.NewDecoder(),
		sessionManager: scs.New(),
	}
	return app, ctrl
}

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, h http.Handler) *testServer {
	t.Helper()
	ts := httptest.NewServer(h)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	ts.Client().Jar = jar
	ts.Client().CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	t.Cleanup(ts.Close)
	return &testServer{ts}
}

func (ts *testServer) get(t *testing.T, urlPath string) (int, http.Header, string) {
	t.Helper()
	rs, err := ts.Client().Get(ts.URL + urlPath)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Body.Close()

	body, err := io.ReadAll(rs.Body)
	if err != nil {
		t.Fatal(err)
	}
	return rs.StatusCode, rs.Header, string(bytes.TrimSpace(body))
}

func (ts *testServer) postForm(t *testing.T, urlPath string, form url.Values) (int, http.Header, string) {
	t.Helper()
	rs, err := ts.Client().PostForm(ts.URL+urlPath, form)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Body.Close()

	body, err := io.ReadAll(rs.Body)
	if err != nil {
		t.Fatal(err)
	}
	return rs.StatusCode, rs.Header, string(bytes.TrimSpace(body))
}

var csrfTokenRX = regexp.MustCompile(`<input type='hidden' name='csrf_token' value='(.+)'>`)

func extractCSRFToken(t *testing.T, body string) string {
	matches := csrfTokenRX.FindStringSubmatch(body)
	if len(matches) < 2 {
		t.Fatal("no csrf token found in body")
	}
	return html.UnescapeString(matches[1])
}

// login signs in the test user and returns a CSRF token for later posts.
func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	_, _, body := ts.get(t, "/user/login")
	token := extractCSRFToken(t, body)

	code, _, _ := ts.postForm(t, "/user/login", url.Values{
		"email":      {"alice@example.com"},
		"password":   {"pa$$word"},
		"csrf_token": {token},
	})
	if code != http.StatusSeeOther {
		t.Fatalf("login: got status %d", code)
	}
	return token
}
