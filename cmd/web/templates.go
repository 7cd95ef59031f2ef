package main

import (
	"html/template"
	"io/fs"
	"path/filepath"
	"strconv"
	"time"

	"furitingoasis/growroom/internal/models"
	"furitingoasis/growroom/ui"
)

type templateData struct {
	CurrentYear     int
	Form            any
	Flash           string
	IsAuthenticated bool
	CSRFToken       string

	State   *models.SystemState
	Stages  []int
	Cameras []string
}

func humanDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("02 Jan 2006 at 15:04:05")
}

// lastReading returns the newest reading of a series, or nil.
func lastReading(readings []models.Reading) *models.Reading {
	if len(readings) == 0 {
		return nil
	}
	return &readings[len(readings)-1]
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

var functions = template.FuncMap{
	"humanDate":   humanDate,
	"lastReading": lastReading,
	"percent":     percent,
}

func newTemplateCache() (map[string]*template.Template, error) {
	cache := map[string]*template.Template{}

	pages, err := fs.Glob(ui.Files, "html/pages/*.html")
	if err != nil {
		return nil, err
	}

	for _, page := range pages {
		name := filepath.Base(page)

		patterns := []string{
			"html/base.html",
			"html/partials/*.html",
			page,
		}

		ts, err := template.New(name).Funcs(functions).ParseFS(ui.Files, patterns...)
		if err != nil {
			return nil, err
		}

		cache[name] = ts
	}

	return cache, nil
}
