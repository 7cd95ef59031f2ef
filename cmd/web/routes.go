package main

import (
	"net/http"

	"github.com/justinas/alice"

	"furitingoasis/growroom/ui"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.FileServerFS(ui.Files))
	mux.HandleFunc("GET /ping", ping)
	mux.Handle("GET /metrics", app.metrics.Handler())

	api := alice.New(app.enableCORS)
	mux.Handle("GET /api/state", api.ThenFunc(app.apiState))
	mux.Handle("GET /api/sensor_data", api.ThenFunc(app.apiSensorData))
	mux.HandleFunc("GET /camera/{name}", app.cameraImage)

	dynamic := alice.New(app.sessionManager.LoadAndSave, app.noSurf, app.authenticate)
	mux.Handle("GET /{$}", dynamic.ThenFunc(app.home))
	mux.Handle("GET /user/login", dynamic.ThenFunc(app.userLogin))
	mux.Handle("POST /user/login", dynamic.ThenFunc(app.userLoginPost))

	protected := dynamic.Append(app.requireAuthentication)
	mux.Handle("POST /user/logout", protected.ThenFunc(app.userLogoutPost))
	mux.Handle("POST /lights/{id}/brightness", protected.ThenFunc(app.lightBrightnessPost))
	mux.Handle("POST /lights/{id}/schedule", protected.ThenFunc(app.lightSchedulePost))
	mux.Handle("POST /static_lights/{id}/toggle", protected.ThenFunc(app.staticLightTogglePost))
	mux.Handle("POST /static_lights/{id}/schedule", protected.ThenFunc(app.staticLightSchedulePost))
	mux.Handle("POST /fan", protected.ThenFunc(app.fanPost))
	mux.Handle("POST /watering/auto", protected.ThenFunc(app.wateringAutoPost))
	mux.Handle("POST /watering/{stage}/start", protected.ThenFunc(app.wateringStartPost))
	mux.Handle("POST /watering/{stage}/stop", protected.ThenFunc(app.wateringStopPost))
	mux.Handle("POST /watering/{stage}/duration", protected.ThenFunc(app.wateringDurationPost))
	mux.Handle("POST /camera/{name}/capture", protected.ThenFunc(app.cameraCapturePost))
	mux.Handle("POST /sensors/{id}", protected.ThenFunc(app.sensorPost))
	mux.Handle("POST /sensors/{id}/delete", protected.ThenFunc(app.sensorDeletePost))
	mux.Handle("POST /alerts/{id}/dismiss", protected.ThenFunc(app.alertDismissPost))

	standard := alice.New(app.recoverPanic, app.logRequest, app.securityHeaders, app.metrics.Instrument)
	return standard.Then(mux)
}
