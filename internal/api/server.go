package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/people.counter/internal/config"
	"github.com/banshee-data/people.counter/internal/db"
	"github.com/banshee-data/people.counter/internal/httputil"
	"github.com/banshee-data/people.counter/internal/occupancy"
	"github.com/banshee-data/people.counter/internal/publish"
	"github.com/banshee-data/people.counter/internal/serialmux"
	"github.com/banshee-data/people.counter/internal/session"
	"github.com/banshee-data/people.counter/internal/units"
	"github.com/banshee-data/people.counter/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// StatusSource reports the live session state. *session.Session
// implements it.
type StatusSource interface {
	Status() session.Status
}

// PublishStats reports broker statistics. *publish.MQTTSink implements it.
type PublishStats interface {
	Stats() publish.Stats
}

// feedCounters is implemented by the real feed multiplexers.
type feedCounters interface {
	Lines() uint64
	Dropped() uint64
}

type Server struct {
	m      serialmux.SerialMuxInterface
	db     *db.DB
	tuning *config.TuningConfig

	live  StatusSource
	stats PublishStats
}

func NewServer(m serialmux.SerialMuxInterface, db *db.DB, tuning *config.TuningConfig) *Server {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{
		m:      m,
		db:     db,
		tuning: tuning,
	}
}

// SetLive attaches the running session.
func (s *Server) SetLive(live StatusSource) { s.live = live }

// SetPublishStats attaches the broker sink, when there is one.
func (s *Server) SetPublishStats(stats PublishStats) { s.stats = stats }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/durations", s.showDurations)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/charts/occupancy", s.occupancyChart)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}

	if err := s.m.SendCommand(command); errors.Is(err, serialmux.ErrFeedDisabled) {
		http.Error(w, "No detector feed", http.StatusServiceUnavailable)
		return
	} else if err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

type feedStatus struct {
	Lines   uint64 `json:"lines"`
	Dropped uint64 `json:"dropped"`
}

type statusResponse struct {
	Session *session.Status `json:"session"`
	Feed    *feedStatus     `json:"feed,omitempty"`
	MQTT    *publish.Stats  `json:"mqtt,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var resp statusResponse
	if s.live != nil {
		st := s.live.Status()
		resp.Session = &st
	}
	if fc, ok := s.m.(feedCounters); ok {
		resp.Feed = &feedStatus{Lines: fc.Lines(), Dropped: fc.Dropped()}
	}
	if s.stats != nil {
		st := s.stats.Stats()
		resp.MQTT = &st
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit, err := httputil.QueryInt(r, "limit", 50, 1)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	tz := r.URL.Query().Get("timezone")
	if tz != "" && !units.IsTimezoneValid(tz) {
		httputil.BadRequest(w, "Invalid timezone: "+tz)
		return
	}

	sessions, err := s.db.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	for i := range sessions {
		sessions[i].StartedAt, _ = units.ConvertTime(sessions[i].StartedAt, tz)
		if sessions[i].EndedAt != nil {
			ended, _ := units.ConvertTime(*sessions[i].EndedAt, tz)
			sessions[i].EndedAt = &ended
		}
	}
	httputil.WriteJSONOK(w, sessions)
}

// sessionID resolves the session_id query parameter, defaulting to the
// most recent session. It writes the error response itself.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("session_id")
	if id != "" {
		if _, err := s.db.GetSession(id); err != nil {
			if errors.Is(err, db.ErrSessionNotFound) {
				httputil.NotFound(w, err.Error())
			} else {
				httputil.InternalServerError(w, err.Error())
			}
			return "", false
		}
		return id, true
	}

	id, err := s.db.LatestSessionID()
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, "no sessions recorded yet")
		return "", false
	} else if err != nil {
		httputil.InternalServerError(w, err.Error())
		return "", false
	}
	return id, true
}

type durationsResponse struct {
	SessionID string             `json:"session_id"`
	Units     string             `json:"units"`
	Durations []float64          `json:"durations"`
	Summary   db.DurationSummary `json:"summary"`
}

// convertSummary rescales every duration statistic of a summary.
func convertSummary(sum db.DurationSummary, unit string) db.DurationSummary {
	for _, v := range []*float64{&sum.Mean, &sum.StdDev, &sum.Min, &sum.Max, &sum.P50, &sum.P85, &sum.P98} {
		*v = units.ConvertDuration(*v, unit)
	}
	return sum
}

func (s *Server) showDurations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.Seconds
	}
	if !units.IsValid(unit) {
		httputil.BadRequest(w, "Invalid units: must be one of "+units.GetValidUnitsString())
		return
	}

	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	durations, err := s.db.Durations(id)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve durations: "+err.Error())
		return
	}
	if durations == nil {
		durations = []float64{}
	}
	summary := convertSummary(db.Summarise(durations), unit)
	httputil.WriteJSONOK(w, durationsResponse{
		SessionID: id,
		Units:     unit,
		Durations: units.ConvertDurations(durations, unit),
		Summary:   summary,
	})
}

type configResponse struct {
	Version   string                  `json:"version"`
	GitSHA    string                  `json:"git_sha"`
	BuildTime string                  `json:"build_time"`
	Tracker   occupancy.TrackerConfig `json:"tracker"`
	Tuning    *config.TuningConfig    `json:"tuning"`
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, configResponse{
		Version:   version.Version,
		GitSHA:    version.GitSHA,
		BuildTime: version.BuildTime,
		Tracker:   occupancy.TrackerConfigFromTuning(s.tuning),
		Tuning:    s.tuning,
	})
}
