package main

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"time"

	"furitingoasis/growroom/internal/camera"
	"furitingoasis/growroom/internal/controller"
	"furitingoasis/growroom/internal/models"
	"furitingoasis/growroom/internal/validator"
)

// maxSensorPoints caps the readings per sensor returned by the API.
const maxSensorPoints = 200

const maxSensorIDLength = 64

func ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

func (app *application) home(w http.ResponseWriter, r *http.Request) {
	state, err := app.controller.Snapshot(r.Context())
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	data := app.newTemplateData(r)
	data.State = &state
	data.Stages = state.Stages()
	data.Cameras = slices.Sorted(maps.Keys(app.cameras))
	app.render(w, r, http.StatusOK, "home.html", data)
}

func (app *application) apiState(w http.ResponseWriter, r *http.Request) {
	state, err := app.controller.Snapshot(r.Context())
	if err != nil {
		app.serverError(w, r, err)
		return
	}
	state.SensorHistory = nil
	app.writeJSON(w, r, http.StatusOK, state)
}

// apiSensorData returns the moisture history of every sensor, or of the one
// named by ?sensor=, thinned to at most maxSensorPoints readings each.
func (app *application) apiSensorData(w http.ResponseWriter, r *http.Request) {
	state, err := app.controller.Snapshot(r.Context())
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	out := make(map[string][]models.Reading)
	if id := r.URL.Query().Get("sensor"); id != "" {
		readings, ok := state.SensorHistory[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		out[id] = downsample(readings, maxSensorPoints)
	} else {
		for id, readings := range state.SensorHistory {
			out[id] = downsample(readings, maxSensorPoints)
		}
	}
	app.writeJSON(w, r, http.StatusOK, out)
}

// downsample keeps every step-th reading so at most limit remain.
func downsample(readings []models.Reading, limit int) []models.Reading {
	if len(readings) <= limit {
		return readings
	}
	step := (len(readings) + limit - 1) / limit
	out := make([]models.Reading, 0, limit)
	for i := 0; i < len(readings); i += step {
		out = append(out, readings[i])
	}
	return out
}

func (app *application) cameraImage(w http.ResponseWriter, r *http.Request) {
	cam, ok := app.cameras[r.PathValue("name")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	img, err := cam.Image(r.Context())
	if err != nil {
		if errors.Is(err, camera.ErrNoImage) {
			http.NotFound(w, r)
			return
		}
		app.logger.Error("fetching camera image", "camera", r.PathValue("name"), "error", err)
		app.clientError(w, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(img)
}

type brightnessForm struct {
	Percent             int `form:"percent"`
	validator.Validator `form:"-"`
}

func (app *application) lightBrightnessPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var form brightnessForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}
	form.CheckField(validator.Between(form.Percent, 0, 100), "percent", "Brightness must be between 0 and 100")
	if !form.Valid() {
		http.Error(w, form.Errors(), http.StatusUnprocessableEntity)
		return
	}

	app.execute(w, r, controller.SetBrightness{Light: id, Percent: form.Percent}, "Brightness updated.")
}

func (app *application) staticLightTogglePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	app.execute(w, r, controller.ToggleStaticLight{Light: id}, "Light switched.")
}

type scheduleForm struct {
	Enabled             bool    `form:"enabled"`
	StartTime           string  `form:"start_time"`
	DurationHours       float64 `form:"duration_hours"`
	Brightness          int     `form:"brightness"`
	validator.Validator `form:"-"`
}

func (app *application) lightSchedulePost(w http.ResponseWriter, r *http.Request) {
	app.schedulePost(w, r, false)
}

func (app *application) staticLightSchedulePost(w http.ResponseWriter, r *http.Request) {
	app.schedulePost(w, r, true)
}

func (app *application) schedulePost(w http.ResponseWriter, r *http.Request, static bool) {
	id, err := pathInt(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var form scheduleForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}
	form.CheckField(validator.Matches(form.StartTime, validator.TimeOfDayRX), "start_time", "Start time must be HH:MM")
	form.CheckField(validator.Between(form.DurationHours, 0, 24), "duration_hours", "Duration must be between 0 and 24 hours")
	if !static {
		form.CheckField(validator.Between(form.Brightness, 0, 100), "brightness", "Brightness must be between 0 and 100")
	}
	if !form.Valid() {
		http.Error(w, form.Errors(), http.StatusUnprocessableEntity)
		return
	}

	cmd := controller.SetLightSchedule{
		Light:  id,
		Static: static,
		Schedule: models.LightSchedule{
			Enabled:       form.Enabled,
			StartTime:     form.StartTime,
			DurationHours: form.DurationHours,
			Brightness:    form.Brightness,
		},
	}
	app.execute(w, r, cmd, "Schedule saved.")
}

type fanForm struct {
	TargetHumidity      float64 `form:"target_humidity"`
	ControlActive       bool    `form:"control_active"`
	ManualOn            bool    `form:"manual_on"`
	validator.Validator `form:"-"`
}

func (app *application) fanPost(w http.ResponseWriter, r *http.Request) {
	var form fanForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}
	form.CheckField(validator.Between(form.TargetHumidity, models.MinTargetHumidity, models.MaxTargetHumidity),
		"target_humidity", "Target humidity must be between 40 and 90")
	if !form.Valid() {
		http.Error(w, form.Errors(), http.StatusUnprocessableEntity)
		return
	}

	cmd := controller.SetFan{
		TargetHumidity: &form.TargetHumidity,
		ControlActive:  &form.ControlActive,
		ManualOn:       &form.ManualOn,
	}
	app.execute(w, r, cmd, "Fan settings saved.")
}

type secondsForm struct {
	Seconds             int `form:"seconds"`
	validator.Validator `form:"-"`
}

func (app *application) decodeSeconds(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	stage, err := pathInt(r, "stage")
	if err != nil {
		http.NotFound(w, r)
		return 0, 0, false
	}

	var form secondsForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return 0, 0, false
	}
	form.CheckField(validator.Between(form.Seconds, 0, controller.MaxWateringSeconds), "seconds", "Duration must be between 0 and 3600 seconds")
	if !form.Valid() {
		http.Error(w, form.Errors(), http.StatusUnprocessableEntity)
		return 0, 0, false
	}
	return stage, form.Seconds, true
}

// wateringStartPost waters a stage. Leaving seconds empty uses the stage's
// configured duration.
func (app *application) wateringStartPost(w http.ResponseWriter, r *http.Request) {
	stage, secs, ok := app.decodeSeconds(w, r)
	if !ok {
		return
	}
	cmd := controller.RequestWatering{Stage: stage, Duration: time.Duration(secs) * time.Second}
	app.execute(w, r, cmd, "Watering started.")
}

func (app *application) wateringStopPost(w http.ResponseWriter, r *http.Request) {
	stage, err := pathInt(r, "stage")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	app.execute(w, r, controller.StopWatering{Stage: stage}, "Watering stopped.")
}

func (app *application) wateringDurationPost(w http.ResponseWriter, r *http.Request) {
	stage, secs, ok := app.decodeSeconds(w, r)
	if !ok {
		return
	}
	app.execute(w, r, controller.SetWateringDuration{Stage: stage, Seconds: secs}, "Watering duration saved.")
}

type autoWateringForm struct {
	Enabled             bool   `form:"enabled"`
	StartTime           string `form:"start_time"`
	validator.Validator `form:"-"`
}

func (app *application) wateringAutoPost(w http.ResponseWriter, r *http.Request) {
	var form autoWateringForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}
	form.CheckField(validator.Matches(form.StartTime, validator.TimeOfDayRX), "start_time", "Start time must be HH:MM")
	if !form.Valid() {
		http.Error(w, form.Errors(), http.StatusUnprocessableEntity)
		return
	}
	app.execute(w, r, controller.SetAutoWatering{Enabled: form.Enabled, StartTime: form.StartTime}, "Auto watering saved.")
}

func (app *application) cameraCapturePost(w http.ResponseWriter, r *http.Request) {
	app.execute(w, r, controller.CapturePicture{Camera: r.PathValue("name")}, "Picture requested.")
}

type sensorForm struct {
	Stage               int     `form:"stage"`
	MinMoisture         float64 `form:"min_moisture"`
	Active              bool    `form:"active"`
	MinADC              float64 `form:"min_adc"`
	MaxADC              float64 `form:"max_adc"`
	validator.Validator `form:"-"`
}

func (app *application) sensorPost(w http.ResponseWriter, r *http.Request) {
	var form sensorForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}
	form.CheckField(validator.Between(form.MinMoisture, 0, 100), "min_moisture", "Threshold must be between 0 and 100")
	form.CheckField(form.Stage >= 0, "stage", "Stage cannot be negative")
	id := r.PathValue("id")
	form.CheckField(validator.MaxChars(id, maxSensorIDLength), "id", "Sensor id cannot be more than 64 characters long")
	if !form.Valid() {
		http.Error(w, form.Errors(), http.StatusUnprocessableEntity)
		return
	}

	cmd := controller.PutSensorConfig{
		ID: id,
		Config: models.SensorConfig{
			Stage:       form.Stage,
			MinMoisture: form.MinMoisture,
			Active:      form.Active,
			MinADC:      form.MinADC,
			MaxADC:      form.MaxADC,
		},
	}
	app.execute(w, r, cmd, "Sensor saved.")
}

func (app *application) sensorDeletePost(w http.ResponseWriter, r *http.Request) {
	app.execute(w, r, controller.DeleteSensorConfig{ID: r.PathValue("id")}, "Sensor removed.")
}

func (app *application) alertDismissPost(w http.ResponseWriter, r *http.Request) {
	app.execute(w, r, controller.DismissAlert{ID: r.PathValue("id")}, "Alert dismissed.")
}

type userLoginForm struct {
	Email               string `form:"email"`
	Password            string `form:"password"`
	validator.Validator `form:"-"`
}

func (app *application) userLogin(w http.ResponseWriter, r *http.Request) {
	app.renderLogin(w, r, http.StatusOK, userLoginForm{})
}

func (app *application) renderLogin(w http.ResponseWriter, r *http.Request, status int, form userLoginForm) {
	data := app.newTemplateData(r)
	data.Form = form
	app.render(w, r, status, "login.html", data)
}

// userLoginPost signs an operator in. Only signed-in sessions may change
// lights, watering, the fan or sensor settings.
func (app *application) userLoginPost(w http.ResponseWriter, r *http.Request) {
	var form userLoginForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}

	form.CheckField(validator.Matches(form.Email, validator.EmailRX), "email", "Enter the operator email address")
	form.CheckField(validator.NotBlank(form.Password), "password", "Enter your password")
	if !form.Valid() {
		app.renderLogin(w, r, http.StatusUnprocessableEntity, form)
		return
	}

	id, err := app.users.Authenticate(form.Email, form.Password)
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		form.AddNonFieldError("Email or password is incorrect")
		app.renderLogin(w, r, http.StatusUnprocessableEntity, form)
		return
	case err != nil:
		app.serverError(w, r, err)
		return
	}

	if err := app.sessionManager.RenewToken(r.Context()); err != nil {
		app.serverError(w, r, err)
		return
	}
	app.sessionManager.Put(r.Context(), "authenticatedUserID", id)
	app.sessionManager.Put(r.Context(), "flash", "Signed in. Controls are unlocked.")
	app.logger.Info("operator signed in", "user", id)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (app *application) userLogoutPost(w http.ResponseWriter, r *http.Request) {
	if err := app.sessionManager.RenewToken(r.Context()); err != nil {
		app.serverError(w, r, err)
		return
	}
	app.sessionManager.Remove(r.Context(), "authenticatedUserID")
	app.sessionManager.Put(r.Context(), "flash", "Signed out. The dashboard is read-only.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
