package internal

import "time"

type Link struct {
	ID        int64      `json:"id"`
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	OwnerID   string     `json:"owner_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	Stats     *LinkStats `json:"stats,omitempty"`
}

// ExpiredAt reports whether the link has stopped resolving at now.
// A link expiring exactly at now still resolves.
func (l *Link) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

func (l *Link) OwnedBy(userID string) bool {
	return l.OwnerID != "" && l.OwnerID == userID
}

type LinkStats struct {
	Clicks        int64      `json:"clicks"`
	LastClickedAt *time.Time `json:"last_clicked_at"`
}

type Visit struct {
	ID        int64     `json:"id"`
	VisitedAt time.Time `json:"timestamp"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Referer   string    `json:"referer,omitempty"`
	Device    string    `json:"device,omitempty"`
}

type Analytics struct {
	Slug        string  `json:"slug"`
	TotalClicks int     `json:"total_clicks"`
	Events      []Visit `json:"events"`
}

type Resolution struct {
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	Recorded  bool       `json:"recorded"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
