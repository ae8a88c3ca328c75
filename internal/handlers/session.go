package handlers

import (
	"net/http"

	"github.com/sjteam/spoolscan/internal/auth"
)

type sessionResponse struct {
	SignedIn bool           `json:"signed_in"`
	Username string         `json:"username,omitempty"`
	Role     string         `json:"role,omitempty"`
	GroupID  *int64         `json:"group_id,omitempty"`
	Sections []auth.Section `json:"sections"`
}

var allSections = []auth.Section{
	auth.SectionSpools,
	auth.SectionUsage,
	auth.SectionProjects,
	auth.SectionProfile,
	auth.SectionUsers,
	auth.SectionGroups,
}

// HandleSession reports who the kiosk is signed in as and which sections
// that role may open. The token itself is never exposed.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.Auth.RequireSignedIn()
	if err != nil {
		h.writeJSON(w, sessionResponse{Sections: []auth.Section{}})
		return
	}

	resp := sessionResponse{
		SignedIn: true,
		Username: s.Username,
		Role:     s.Role,
		GroupID:  s.GroupID,
		Sections: []auth.Section{},
	}
	for _, section := range allSections {
		if s.CanView(section) {
			resp.Sections = append(resp.Sections, section)
		}
	}
	h.writeJSON(w, resp)
}
