package models

import "time"

const (
	// AnonymousUserID is the caller id used when no authenticated user is attached to a request.
	AnonymousUserID int64 = -1
	// NewCanvasID marks a canvas payload that has not been persisted yet.
	NewCanvasID int64 = -1
	// UnclaimedOwner is the owner id of a heritage item nobody has claimed.
	UnclaimedOwner int64 = 0
)

// Position is the pixel geometry shared by every element placed on a canvas.
type Position struct {
	Left   int `bson:"left" json:"left"`
	Top    int `bson:"top" json:"top"`
	Width  int `bson:"width" json:"width"`
	Height int `bson:"height" json:"height"`
}

type Canvas struct {
	ID        int64         `bson:"_id" json:"id"`
	OwnerID   int64         `bson:"owner_id" json:"userId"`
	Title     string        `bson:"title" json:"title"`
	IsPublic  bool          `bson:"is_public" json:"isPublic"`
	Images    []ImageBox    `bson:"-" json:"images"`
	Texts     []TextBox     `bson:"-" json:"texts"`
	Markdowns []MarkdownBox `bson:"-" json:"markdowns"`
	Heritages []Heritage    `bson:"-" json:"heritages"`
	CreatedAt time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updatedAt"`
}

type ImageBox struct {
	ID       int64  `bson:"_id" json:"id"`
	CanvasID int64  `bson:"canvas_id" json:"pid"`
	ImageURL string `bson:"image_url" json:"imageUrl"`
	Position `bson:",inline"`
}

type TextBox struct {
	ID       int64  `bson:"_id" json:"id"`
	CanvasID int64  `bson:"canvas_id" json:"pid"`
	Content  string `bson:"content" json:"content"`
	Position `bson:",inline"`
}

type MarkdownBox struct {
	ID       int64  `bson:"_id" json:"id"`
	CanvasID int64  `bson:"canvas_id" json:"pid"`
	Content  string `bson:"content" json:"content"`
	Position `bson:",inline"`
}

// Heritage is a shrine on a canvas bundling heritage items, some of them private.
type Heritage struct {
	ID         int64          `bson:"_id" json:"id"`
	CanvasID   int64          `bson:"canvas_id" json:"pid"`
	PublicTime time.Time      `bson:"public_time" json:"publicTime"`
	Items      []HeritageItem `bson:"-" json:"items"`
	Position   `bson:",inline"`
}

// HeritageItem is one piece of content inside a shrine. OwnerID moves away from
// UnclaimedOwner at most once.
type HeritageItem struct {
	ID         int64  `bson:"_id" json:"id"`
	HeritageID int64  `bson:"heritage_id" json:"heritageId"`
	Content    string `bson:"content" json:"content"`
	IsPrivate  bool   `bson:"is_private" json:"isPrivate"`
	OwnerID    int64  `bson:"owner_id" json:"userId"`
}

// Claimed reports whether the item has an owner.
func (i HeritageItem) Claimed() bool {
	return i.OwnerID != UnclaimedOwner
}

// VisibleTo reports whether the item content may be shown to userID.
func (i HeritageItem) VisibleTo(userID int64) bool {
	if !i.IsPrivate {
		return true
	}
	return i.Claimed() && i.OwnerID == userID
}

// Placeholder returns a copy of the item with its content withheld.
func (i HeritageItem) Placeholder() HeritageItem {
	i.Content = ""
	return i
}

// IsNew reports whether the canvas has not been persisted yet.
func (c *Canvas) IsNew() bool {
	return c.ID == NewCanvasID || c.ID == 0
}
