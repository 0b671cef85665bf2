package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pobbin/cfg"
	"pobbin/pkg/domain"
	"pobbin/svc/cache"
	"pobbin/svc/resp"
	"pobbin/svc/session"
	"pobbin/svc/svc"
	"pobbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

const writeOverhead = 16 * 1024

var (
	listCache      = resp.CacheControl{}.Public().MaxAge(0).SMaxAge(time.Hour)
	userPasteCache = resp.CacheControl{}.Public().MaxAge(0).SMaxAge(24 * time.Hour)
	anonPasteCache = resp.CacheControl{}.Public().MaxAge(time.Hour).SMaxAge(24 * time.Hour)
)

type Hdl struct {
	paste *svc.Paste
	edge  *cache.Controller
	cfg   *cfg.Cfg
}

type handlerFunc func(r *http.Request) (*resp.Response, error)

// cached runs fn behind the edge cache. owner names the user the route is
// scoped to and picks the tier together with the session.
func (h *Hdl) cached(owner func(*http.Request) domain.User, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		if loc, ok := canonicalPath(r); ok {
			send(w, r, resp.Redirect(http.StatusMovedPermanently, loc).Header("Cache-Control", "no-store"))
			return
		}
		entry := h.edge.Entry(r, session.UserFrom(r.Context()), owner(r))
		if hit := entry.Load(); hit != nil {
			if m := hit.Meta(); m != nil {
				log.Debug().Str("paste_id", m.PasteID).Str("user_id", m.UserID).Stringer("tier", entry.Tier()).Msg("edge cache hit")
			}
			send(w, r, hit)
			return
		}
		res, err := fn(r)
		if err != nil {
			writeErr(w, err, util.GetRequestID(r.Context()))
			return
		}
		send(w, r, entry.Store(res))
	}
}

func send(w http.ResponseWriter, r *http.Request, res *resp.Response) {
	if err := res.WriteTo(w); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to write response")
	}
}

// param returns a URL parameter with percent escapes decoded.
func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// canonicalPath rebuilds the matched route with every user segment in its
// normalized spelling. ok is false when the request already uses it or the
// user is invalid, in which case the handler reports the error.
func canonicalPath(r *http.Request) (string, bool) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "", false
	}
	segs := strings.Split(rctx.RoutePattern(), "/")
	changed := false
	for i, seg := range segs {
		if !strings.HasPrefix(seg, "{") {
			continue
		}
		name := strings.Trim(seg, "{}")
		v := param(r, name)
		switch name {
		case "user":
			if u, err := domain.ParseUser(v); err == nil && u.Normalized().String() != v {
				v, changed = u.Normalized().String(), true
			}
		case "pid":
			if u, id, ok := strings.Cut(v, ":"); ok {
				if pu, err := domain.ParseUser(u); err == nil && pu.Normalized().String() != u {
					v, changed = pu.Normalized().String()+":"+id, true
				}
			}
		}
		segs[i] = domain.PathSegment(v)
	}
	if !changed {
		return "", false
	}
	return strings.Join(segs, "/"), true
}

func pathUser(r *http.Request) (domain.User, error) {
	return domain.ParseUser(param(r, "user"))
}

// pathPasteID reads the paste id from {pid}, or from {id} scoped by {user}.
func pathPasteID(r *http.Request) (domain.PasteID, error) {
	if chi.URLParam(r, "pid") != "" {
		return domain.ParsePasteID(param(r, "pid"))
	}
	id, err := domain.ParseID(param(r, "id"))
	if err != nil {
		return nil, err
	}
	if chi.URLParam(r, "user") == "" {
		return domain.Paste{ID: id}, nil
	}
	u, err := pathUser(r)
	if err != nil {
		return nil, err
	}
	return domain.UserPaste{User: u, ID: id}, nil
}

func unscopedOwner(*http.Request) domain.User { return "" }

func routeUser(r *http.Request) domain.User {
	u, _ := pathUser(r)
	return u
}

func pidOwner(r *http.Request) domain.User {
	id, err := pathPasteID(r)
	if err != nil {
		return ""
	}
	u, _ := domain.Owner(id)
	return u
}

func pasteCache(id domain.PasteID) resp.CacheControl {
	if _, ok := domain.Owner(id); ok {
		return userPasteCache
	}
	return anonPasteCache
}

func (h *Hdl) load(r *http.Request) (domain.PasteID, *domain.StoredPaste, error) {
	id, err := pathPasteID(r)
	if err != nil {
		return nil, nil, err
	}
	sp, err := h.paste.Get(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	return id, sp, nil
}

func (h *Hdl) Raw(r *http.Request) (*resp.Response, error) {
	id, sp, err := h.load(r)
	if err != nil {
		return nil, err
	}
	return resp.OK().
		Text(sp.Content).
		Cache(pasteCache(id)).
		ETag(resp.StrongETag(sp.EntityID)).
		LastModified(sp.LastModified).
		WithMeta(resp.PasteMeta(id, sp)), nil
}

type PasteJSON struct {
	ID           string                `json:"id"`
	User         string                `json:"user,omitempty"`
	Content      string                `json:"content"`
	Metadata     *domain.PasteMetadata `json:"metadata,omitempty"`
	LastModified int64                 `json:"last_modified"`
}

func (h *Hdl) JSON(r *http.Request) (*resp.Response, error) {
	id, sp, err := h.load(r)
	if err != nil {
		return nil, err
	}
	body := PasteJSON{
		ID:           string(id.Key()),
		Content:      sp.Content,
		Metadata:     sp.Metadata,
		LastModified: sp.LastModified,
	}
	if u, ok := domain.Owner(id); ok {
		body.User = string(u)
	}
	return resp.OK().
		JSON(body).
		Cache(pasteCache(id)).
		ETag(resp.WeakETag(sp.EntityID).WithBuild()).
		LastModified(sp.LastModified).
		WithMeta(resp.PasteMeta(id, sp)), nil
}

func (h *Hdl) View(r *http.Request) (*resp.Response, error) {
	id, sp, err := h.load(r)
	if err != nil {
		return nil, err
	}
	page, err := renderPaste(id, sp, session.UserFrom(r.Context()))
	if err != nil {
		return nil, err
	}
	return resp.OK().
		ContentType("text/html; charset=utf-8").
		Body(page).
		Cache(pasteCache(id)).
		ETag(resp.WeakETag(sp.EntityID).WithBuild()).
		WithMeta(resp.PasteMeta(id, sp)), nil
}

func (h *Hdl) listing(r *http.Request) (domain.User, []domain.PasteSummary, error) {
	u, err := pathUser(r)
	if err != nil {
		return "", nil, err
	}
	pastes, err := h.paste.List(r.Context(), u)
	if err != nil {
		return "", nil, err
	}
	out := make([]domain.PasteSummary, 0, len(pastes))
	for _, p := range pastes {
		out = append(out, domain.Summarize(p))
	}
	return u, out, nil
}

func (h *Hdl) UserList(r *http.Request) (*resp.Response, error) {
	u, list, err := h.listing(r)
	if err != nil {
		return nil, err
	}
	return resp.OK().JSON(list).Cache(listCache).WithMeta(resp.ListMeta(u)), nil
}

func (h *Hdl) UserPage(r *http.Request) (*resp.Response, error) {
	u, list, err := h.listing(r)
	if err != nil {
		return nil, err
	}
	page, err := renderUser(u, list, session.UserFrom(r.Context()))
	if err != nil {
		return nil, err
	}
	return resp.OK().
		ContentType("text/html; charset=utf-8").
		Body(page).
		Cache(listCache).
		ETag(resp.WeakETag(u.Normalized().String()).WithBuild()).
		WithMeta(resp.ListMeta(u)), nil
}

type WriteReq struct {
	ID                string  `json:"id,omitempty"`
	Content           string  `json:"content"`
	Title             string  `json:"title,omitempty"`
	AscendancyOrClass string  `json:"ascendancy_or_class,omitempty"`
	Version           *string `json:"version,omitempty"`
	MainSkillName     *string `json:"main_skill_name,omitempty"`
}

func (req WriteReq) metadata() *domain.PasteMetadata {
	if req.Title == "" && req.AscendancyOrClass == "" && req.Version == nil && req.MainSkillName == nil {
		return nil
	}
	return &domain.PasteMetadata{
		Title:             req.Title,
		AscendancyOrClass: req.AscendancyOrClass,
		Version:           req.Version,
		MainSkillName:     req.MainSkillName,
	}
}

type WriteResp struct {
	ID   string `json:"id"`
	User string `json:"user,omitempty"`
	URL  string `json:"url"`
}

func writeResp(id domain.PasteID) WriteResp {
	out := WriteResp{ID: string(id.Key()), URL: domain.URL(id)}
	if u, ok := domain.Owner(id); ok {
		out.User = string(u)
	}
	return out
}

func (h *Hdl) decodeWrite(w http.ResponseWriter, r *http.Request) (WriteReq, error) {
	var req WriteReq
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return req, domain.ErrInvalidRequest
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPasteSize*2+writeOverhead)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return req, domain.ErrPasteTooLarge
		}
		hlog.FromRequest(r).Debug().Err(err).Msg("invalid write request body")
		return req, domain.ErrInvalidRequest
	}
	return req, nil
}

func (h *Hdl) Create(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	req, err := h.decodeWrite(w, r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	user := session.UserFrom(r.Context())
	params := domain.WriteParams{Content: req.Content, Metadata: req.metadata(), Session: user}
	if req.ID != "" {
		if user == "" {
			writeErr(w, domain.ErrUnauthorized, requestID)
			return
		}
		id, err := domain.ParseID(req.ID)
		if err != nil {
			writeErr(w, err, requestID)
			return
		}
		params.ID = domain.UserPaste{User: user, ID: id}
	}
	id, err := h.paste.Create(r.Context(), h.edge.Origin(r), params)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	w.Header().Set("Location", domain.URL(id))
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(writeResp(id))
}

func (h *Hdl) Update(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	id, err := pathPasteID(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	req, err := h.decodeWrite(w, r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	params := domain.WriteParams{
		ID:       id,
		Content:  req.Content,
		Metadata: req.metadata(),
		Session:  session.UserFrom(r.Context()),
	}
	if err := h.paste.Update(r.Context(), h.edge.Origin(r), id, params); err != nil {
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(writeResp(id))
}

func (h *Hdl) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	id, err := pathPasteID(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	if err := h.paste.Delete(r.Context(), h.edge.Origin(r), id, session.UserFrom(r.Context())); err != nil {
		writeErr(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	body := domain.ToResp(err)
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      body.Error.Msg,
		"code":       body.Error.Code,
		"request_id": requestID,
	})
}
