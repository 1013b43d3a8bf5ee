package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/auth"
	"github.com/DoyleJ11/guess-who-backend/internal/catalog"
	"github.com/DoyleJ11/guess-who-backend/internal/engine"
	"github.com/DoyleJ11/guess-who-backend/internal/lobby"
	"github.com/DoyleJ11/guess-who-backend/internal/roomcode"
)

const (
	qrSize      = 320
	maxBodySize = 1 << 12
)

// Rooms is what the API needs from the session store.
type Rooms interface {
	Exists(code string) bool
}

type API struct {
	Lobby     *lobby.Manager
	Rooms     Rooms
	Catalog   catalog.Catalog
	Guests    *auth.Guests // nil disables POST /auth/guest
	Defaults  engine.Rules
	PublicURL string
	Log       *zap.Logger
}

type createRoomRequest struct {
	TurnTimerSec   *int   `json:"turnTimerSec"`
	CharacterSetID string `json:"characterSetId"`
}

type createRoomResponse struct {
	Code    string `json:"code"`
	JoinURL string `json:"joinUrl"`
}

// CreateRoom opens a lobby. The body is optional; missing fields take the server defaults.
func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, engine.Errorf(engine.KindInvalidArgument, "bad request body: %v", err))
		return
	}

	rules := a.Defaults
	if req.TurnTimerSec != nil {
		if *req.TurnTimerSec < 0 {
			a.writeError(w, engine.Errorf(engine.KindInvalidArgument, "turnTimerSec must not be negative"))
			return
		}
		rules.TurnTimerSec = *req.TurnTimerSec
	}
	if req.CharacterSetID != "" {
		rules.CharacterSetID = req.CharacterSetID
	}
	// Fail now rather than at start if the set is unknown.
	if _, err := a.Catalog.Characters(r.Context(), rules.CharacterSetID); err != nil {
		a.writeError(w, err)
		return
	}

	st, err := a.Lobby.Create(r.Context(), rules)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.Log.Info("room created", zap.String("room", st.Code), zap.String("set", rules.CharacterSetID), zap.Int("turnTimerSec", rules.TurnTimerSec))
	writeJSON(w, http.StatusCreated, createRoomResponse{Code: st.Code, JoinURL: a.joinURL(st.Code)})
}

// RoomQR renders the room's join link as a PNG.
func (a *API) RoomQR(w http.ResponseWriter, r *http.Request) {
	code := roomcode.Normalize(chi.URLParam(r, "code"))
	if !roomcode.Valid(code) || !a.Rooms.Exists(code) {
		a.writeError(w, engine.ErrRoomNotFound)
		return
	}
	png, err := qrcode.Encode(a.joinURL(code), qrcode.Medium, qrSize)
	if err != nil {
		a.Log.Error("qr generation failed", zap.String("room", code), zap.Error(err))
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (a *API) joinURL(code string) string {
	u, err := url.Parse(a.PublicURL)
	if err != nil {
		return a.PublicURL + "/?room=" + url.QueryEscape(code)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("room", code)
	u.RawQuery = q.Encode()
	return u.String()
}

type guestRequest struct {
	Name string `json:"name"`
}

type guestResponse struct {
	Credential  string `json:"credential"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (a *API) IssueGuest(w http.ResponseWriter, r *http.Request) {
	if a.Guests == nil {
		http.Error(w, "guest access disabled", http.StatusForbidden)
		return
	}
	var req guestRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, engine.Errorf(engine.KindInvalidArgument, "bad request body: %v", err))
		return
	}
	name := lobby.CleanName(req.Name)
	if name == "" {
		a.writeError(w, engine.Errorf(engine.KindInvalidArgument, "name is required"))
		return
	}
	cred, id, err := a.Guests.Issue(name)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, guestResponse{Credential: cred, UserID: id.UserID, DisplayName: id.DisplayName})
}

type characterSetResponse struct {
	ID         string             `json:"id"`
	Characters []engine.Character `json:"characters"`
}

func (a *API) CharacterSet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chars, err := a.Catalog.Characters(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, characterSetResponse{ID: id, Characters: chars})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeError reports err as JSON. Internal details never reach the client; they and fatal
// kinds are logged at error level, everything else is a routine rejection.
func (a *API) writeError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	msg := err.Error()
	if kind == engine.KindInternal || kind.Fatal() {
		a.Log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		a.Log.Debug("request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	if kind == engine.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, statusOf(kind), errorResponse{Code: string(kind), Error: msg})
}

func statusOf(kind engine.ErrorKind) int {
	switch kind {
	case engine.KindInvalidArgument:
		return http.StatusBadRequest
	case engine.KindUnauthenticated, engine.KindInvalidToken:
		return http.StatusUnauthorized
	case engine.KindRoomNotFound, engine.KindCatalogUnavailable:
		return http.StatusNotFound
	case engine.KindExhaustedCodeSpace:
		return http.StatusServiceUnavailable
	case engine.KindInternal, engine.KindSessionCorrupted:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}
