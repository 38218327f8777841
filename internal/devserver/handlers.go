package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/npezzotti/go-estate-chat/internal/api"
	"github.com/npezzotti/go-estate-chat/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageResponse is the history page envelope.
type PageResponse struct {
	Content []types.Message `json:"content"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
	HasNext bool            `json:"hasNext"`
}

type RoomResponse struct {
	types.Room
	Messages PageResponse `json:"messages"`
}

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	identity, _ := Identity(r.Context())
	roomId := r.PathValue("roomId")

	room, err := s.store.GetRoom(roomId)
	if err != nil {
		errResp := api.NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgs, hasNext, err := s.store.Messages(roomId, 0, defaultPageSize)
	if err != nil {
		errResp := api.NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, RoomResponse{
		Room: types.Room{
			RoomId:              room.Id,
			CounterpartIdentity: s.store.Counterpart(roomId, identity),
			ListingId:           room.ListingId,
		},
		Messages: PageResponse{
			Content: msgs,
			Page:    0,
			Size:    defaultPageSize,
			HasNext: hasNext,
		},
	})
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId := r.PathValue("roomId")

	page, err := intParam(r, "page", 0)
	if err != nil || page < 0 {
		errResp := api.NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	size, err := intParam(r, "size", defaultPageSize)
	if err != nil || size <= 0 || size > maxPageSize {
		errResp := api.NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if sort := r.URL.Query().Get("sort"); sort != "" && sort != "createdAt,desc" {
		errResp := api.NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgs, hasNext, err := s.store.Messages(roomId, page, size)
	if err != nil {
		errResp := api.NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, PageResponse{
		Content: msgs,
		Page:    page,
		Size:    size,
		HasNext: hasNext,
	})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
