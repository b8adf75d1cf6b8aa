package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"go.uber.org/zap"

	"github.com/streamgate/streamgate/pkg/middleware"
)

// Set a Decoder instance as a package global, because it caches
// meta-data about structs, and an instance can be shared safely.
var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)

	return d
}

// Multipart fields accepted as the uploaded media file.
var uploadFields = []string{"media", "file"}

// Content types of served manifests and chunks.
const (
	PlaylistContentType = "application/vnd.apple.mpegurl"
	ChunkContentType    = "video/MP2T"
)

// Server exposes a Service over HTTP.
type Server struct {
	Service Service
	Logger  *zap.Logger

	// PublicURL is the base of returned playlist URLs. Derived from the request when empty.
	PublicURL string

	// MaxUploadBytes limits the request body of uploads. Zero means no limit.
	MaxUploadBytes int64
}

// RegisterRoutes registers the handlers of s on router.
// uploadMiddlewares wrap the upload handler only.
//
// The router is switched to match on the escaped path: encoded separators in a segment name
// reach the handlers (and get rejected there) instead of being cleaned into another route.
func (s Server) RegisterRoutes(router *mux.Router, uploadMiddlewares ...mux.MiddlewareFunc) {
	router.UseEncodedPath()

	var upload http.Handler = http.HandlerFunc(s.UploadHandler)
	for i := len(uploadMiddlewares) - 1; i >= 0; i-- {
		upload = uploadMiddlewares[i](upload)
	}

	router.Path("/upload").Methods(http.MethodPost).Handler(upload)
	router.Path("/upload/").Methods(http.MethodPost).Handler(upload)
	router.Path("/refresh-token/{media_id}").Methods(http.MethodPost).HandlerFunc(s.RefreshTokenHandler)
	router.Path("/stream/{media_id}/playlist.m3u8").Methods(http.MethodGet).HandlerFunc(s.PlaylistHandler)
	router.Path("/stream/{media_id}/{segment_name}").Methods(http.MethodGet).HandlerFunc(s.SegmentHandler)
	router.Path("/media/{media_id}").Methods(http.MethodDelete).HandlerFunc(s.DeleteHandler)
	router.Path("/media/{media_id}/info").Methods(http.MethodGet).HandlerFunc(s.InfoHandler)
	router.Path("/media/{media_id}/extend-expiry").Methods(http.MethodPost).HandlerFunc(s.ExtendExpiryHandler)
	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(HealthHandler)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s Server) handleError(err error, w http.ResponseWriter, r *http.Request) {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{publicMessage(err, ErrNotFound)})

	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{publicMessage(err, ErrForbidden)})

	case errors.Is(err, ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{publicMessage(err, ErrBadRequest)})

	case errors.As(err, &maxBytesErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{"upload too large"})

	default:
		s.logger().Error(
			"request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		)

		message := http.StatusText(http.StatusInternalServerError)
		if errors.Is(err, ErrEncodingFailed) {
			message = "encoding failed"
		}

		writeJSON(w, http.StatusInternalServerError, errorResponse{message})
	}
}

// publicMessage strips the sentinel from the end of a wrapped error message.
func publicMessage(err error, sentinel error) string {
	message := strings.TrimSuffix(err.Error(), ": "+sentinel.Error())
	if message == "" {
		return sentinel.Error()
	}

	return message
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}

func decodeQuery(dst interface{}, r *http.Request) error {
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("invalid query: %s: %w", err, ErrBadRequest)
	}

	return nil
}

// pathVar returns a decoded route variable.
func pathVar(r *http.Request, name string) (string, error) {
	v, err := url.PathUnescape(mux.Vars(r)[name])
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", ErrBadRequest)
	}

	return v, nil
}

func (s Server) playlistURL(r *http.Request, mediaID string, token string) string {
	base := strings.TrimSuffix(s.PublicURL, "/")

	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}

		base = scheme + "://" + r.Host
	}

	return fmt.Sprintf("%s/stream/%s/playlist.m3u8?token=%s", base, mediaID, url.QueryEscape(token))
}

// UploadHandler accepts a multipart upload and responds with the credentials of the new media.
func (s Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	request := UploadRequest{
		ExpiryMinutes: DefaultExpiryMinutes,
	}

	if err := decodeQuery(&request, r); err != nil {
		s.handleError(err, w, r)
		return
	}

	if s.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	}

	part, err := uploadPart(r)
	if err != nil {
		s.handleError(err, w, r)
		return
	}
	defer part.Close()

	request.File = part

	response, err := s.Service.Upload(r.Context(), request)
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	response.PlaylistURL = s.playlistURL(r, response.MediaID, response.AccessToken)

	writeJSON(w, http.StatusOK, response)
}

// uploadPart streams the multipart body up to the media file part.
func uploadPart(r *http.Request) (io.ReadCloser, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, fmt.Errorf("multipart form expected: %w", ErrBadRequest)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("multipart form expected: %w", ErrBadRequest)
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("media file is required: %w", ErrBadRequest)
		}

		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				return nil, err
			}

			return nil, fmt.Errorf("malformed multipart form: %w", ErrBadRequest)
		}

		for _, field := range uploadFields {
			if part.FormName() == field {
				return part, nil
			}
		}

		part.Close()
	}
}

// RefreshTokenHandler issues a new access token in exchange for the admin key.
func (s Server) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	request := RefreshTokenRequest{
		ExpiryMinutes: DefaultExpiryMinutes,
	}

	if err := decodeQuery(&request, r); err != nil {
		s.handleError(err, w, r)
		return
	}

	mediaID, err := pathVar(r, "media_id")
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	request.MediaID = mediaID

	response, err := s.Service.RefreshToken(r.Context(), request)
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	response.PlaylistURL = s.playlistURL(r, response.MediaID, response.AccessToken)

	writeJSON(w, http.StatusOK, response)
}

// PlaylistHandler serves the rewritten manifest of a media.
func (s Server) PlaylistHandler(w http.ResponseWriter, r *http.Request) {
	mediaID, err := pathVar(r, "media_id")
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	content, err := s.Service.Playlist(r.Context(), mediaID, r.URL.Query().Get("token"))
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	w.Header().Set("Content-Type", PlaylistContentType)
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, content)
}

// SegmentHandler serves a single chunk of a media.
func (s Server) SegmentHandler(w http.ResponseWriter, r *http.Request) {
	mediaID, err := pathVar(r, "media_id")
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	name, err := pathVar(r, "segment_name")
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	path, err := s.Service.Segment(r.Context(), mediaID, name, r.URL.Query().Get("token"))
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("segment not found: %w", ErrNotFound)
		}

		s.handleError(err, w, r)

		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	w.Header().Set("Content-Type", ChunkContentType)
	http.ServeContent(w, r, filepath.Base(path), stat.ModTime(), f)
}

type messageResponse struct {
	Message string `json:"message"`
}

// DeleteHandler removes a media.
func (s Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	var request AdminRequest

	if err := decodeQuery(&request, r); err != nil {
		s.handleError(err, w, r)
		return
	}

	mediaID, err := pathVar(r, "media_id")
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	request.MediaID = mediaID

	if err := s.Service.Delete(r.Context(), request); err != nil {
		s.handleError(err, w, r)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{"Media successfully deleted!"})
}

// InfoHandler describes a media.
func (s Server) InfoHandler(w http.ResponseWriter, r *http.Request) {
	var request AdminRequest

	if err := decodeQuery(&request, r); err != nil {
		s.handleError(err, w, r)
		return
	}

	mediaID, err := pathVar(r, "media_id")
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	request.MediaID = mediaID

	response, err := s.Service.Info(r.Context(), request)
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// ExtendExpiryHandler extends the validity window of a media.
func (s Server) ExtendExpiryHandler(w http.ResponseWriter, r *http.Request) {
	var request ExtendExpiryRequest

	if err := decodeQuery(&request, r); err != nil {
		s.handleError(err, w, r)
		return
	}

	mediaID, err := pathVar(r, "media_id")
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	request.MediaID = mediaID

	response, err := s.Service.ExtendExpiry(r.Context(), request)
	if err != nil {
		s.handleError(err, w, r)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
