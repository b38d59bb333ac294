package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/FairForge/achievements/internal/achievement"
)

// ListResponse is the body of the list route.
type ListResponse struct {
	OwnerID      string             `json:"owner_id"`
	Count        int                `json:"count"`
	Achievements []achievement.Meta `json:"achievements"`
}

type uploadGrantRequest struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

type registerMetaRequest struct {
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id"`
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	FileSize  int64  `json:"file_size"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	list, err := s.gateway.ListArtifacts(r.Context(), owner)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ListResponse{
		OwnerID:      owner,
		Count:        len(list),
		Achievements: list,
	})
}

func (s *Server) handleLookupArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	meta, err := s.gateway.LookupArtifact(r.Context(), vars["owner"], vars["name"])
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDownloadGrant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	grant, err := s.gateway.RequestDownloadGrant(r.Context(), vars["owner"], vars["name"])
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleUploadGrant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	body, err := readValidatedBody(r, uploadGrantSchemaLoader)
	if err != nil {
		s.writeError(w, r, CodeInvalidArgument, err.Error())
		return
	}
	var req uploadGrantRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, CodeInvalidArgument, "malformed JSON body")
		return
	}

	grant, err := s.gateway.RequestUploadGrant(r.Context(), vars["owner"], vars["name"], req.FileName, req.FileType)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleRegisterMeta(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, name := vars["owner"], vars["name"]

	body, err := readValidatedBody(r, registerMetaSchemaLoader)
	if err != nil {
		s.writeError(w, r, CodeInvalidArgument, err.Error())
		return
	}
	var req registerMetaRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, CodeInvalidArgument, "malformed JSON body")
		return
	}
	if req.Name != "" && req.Name != name {
		s.writeError(w, r, CodeInvalidArgument, "body name does not match path")
		return
	}
	if req.OwnerID != "" && req.OwnerID != owner {
		s.writeError(w, r, CodeInvalidArgument, "body owner_id does not match path")
		return
	}

	stored, err := s.gateway.RegisterMeta(r.Context(), achievement.Meta{
		Name:      name,
		OwnerID:   owner,
		FileName:  req.FileName,
		FileType:  req.FileType,
		FileSize:  req.FileSize,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.gateway.DeleteArtifact(r.Context(), vars["owner"], vars["name"]); err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
