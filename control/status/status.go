// Package status renders an HTML page describing what the appliance is doing.
package status

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"html/template"
	"image"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/gcoonrod/dMarkle/control/dice"
	"github.com/gcoonrod/dMarkle/control/screen"
)

var (
	//go:embed index.html.tmpl
	indexHTML string
	funcMap   = template.FuncMap{
		"image": formatImage,
		"time":  formatTime,
	}
	index = template.Must(template.New("index").Funcs(funcMap).Parse(indexHTML))
)

// Status is everything the page shows.
type Status struct {
	Now     time.Time
	State   dice.State
	Kinds   []dice.Kind
	Frame   string
	Preview *image.NRGBA64
}

// Handler serves the status page for a controller and the screen it draws on.
func Handler(c *dice.Controller, s *screen.Screen) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeStatus(w, Status{
			Now:     time.Now(),
			State:   c.State(),
			Kinds:   c.Kinds(),
			Frame:   s.Frame().String(),
			Preview: s.Image(),
		})
	})
}

// ServeStatus renders st.
func ServeStatus(w http.ResponseWriter, st Status) {
	buf := new(bytes.Buffer)
	if err := index.Execute(buf, st); err != nil {
		log.Printf("execute template: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func formatTime(t time.Time) string { return t.Format("15:04:05.000") }

func formatImage(src *image.NRGBA64) template.URL {
	if src == nil {
		src = image.NewNRGBA64(image.Rect(0, 0, 1, 1))
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, src); err != nil {
		log.Printf("problem encoding image: %v", err)
		return template.URL("data:text/plain,error")
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
}
