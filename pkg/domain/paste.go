package domain

type PasteMetadata struct {
	Title             string  `json:"title"`
	AscendancyOrClass string  `json:"ascendancy_or_class"`
	Version           *string `json:"version,omitempty"`
	MainSkillName     *string `json:"main_skill_name,omitempty"`
}

// StoredPaste is the durable record of a paste. EntityID is the hex content
// digest and always belongs to Content.
type StoredPaste struct {
	Metadata     *PasteMetadata `json:"metadata,omitempty"`
	LastModified int64          `json:"last_modified"`
	EntityID     string         `json:"entity_id"`
	Content      string         `json:"content"`
}

type ListPaste struct {
	ID           PasteID
	Metadata     *PasteMetadata
	LastModified int64
}

// PasteSummary is the JSON shape of a listing entry.
type PasteSummary struct {
	ID                string `json:"id"`
	User              string `json:"user,omitempty"`
	Title             string `json:"title"`
	AscendancyOrClass string `json:"ascendancy_or_class"`
	Version           string `json:"version"`
	MainSkillName     string `json:"main_skill_name"`
	LastModified      int64  `json:"last_modified"`
	URL               string `json:"url"`
}

func Summarize(lp ListPaste) PasteSummary {
	s := PasteSummary{
		ID:           string(lp.ID.Key()),
		LastModified: lp.LastModified,
		URL:          URL(lp.ID),
	}
	if u, ok := Owner(lp.ID); ok {
		s.User = string(u)
	}
	if m := lp.Metadata; m != nil {
		s.Title = m.Title
		s.AscendancyOrClass = m.AscendancyOrClass
		if m.Version != nil {
			s.Version = *m.Version
		}
		if m.MainSkillName != nil {
			s.MainSkillName = *m.MainSkillName
		}
	}
	return s
}

type WriteParams struct {
	ID       PasteID
	Content  string
	Metadata *PasteMetadata
	// Session is the authenticated user issuing the write, empty if anonymous.
	Session User
}
