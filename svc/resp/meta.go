package resp

import "pobbin/pkg/domain"

// Meta describes the resource a response renders. It survives the edge cache
// round trip.
type Meta struct {
	UserID            string `json:"user_id,omitempty"`
	PasteID           string `json:"paste_id,omitempty"`
	Title             string `json:"title,omitempty"`
	AscendancyOrClass string `json:"ascendancy_or_class,omitempty"`
	MainSkillName     string `json:"main_skill_name,omitempty"`
	Version           string `json:"version,omitempty"`
	LastModified      int64  `json:"last_modified,omitempty"`
}

func PasteMeta(id domain.PasteID, p *domain.StoredPaste) *Meta {
	m := &Meta{PasteID: id.String()}
	if u, ok := domain.Owner(id); ok {
		m.UserID = string(u)
	}
	if p == nil || p.Metadata == nil {
		return m
	}
	md := p.Metadata
	m.Title = md.Title
	m.AscendancyOrClass = md.AscendancyOrClass
	if md.MainSkillName != nil {
		m.MainSkillName = *md.MainSkillName
	}
	if md.Version != nil {
		m.Version = *md.Version
	}
	m.LastModified = p.LastModified
	return m
}

func ListMeta(u domain.User) *Meta {
	return &Meta{UserID: string(u)}
}
