package models

// ChildKind tags the element kinds a canvas owns.
type ChildKind int

const (
	ChildImage ChildKind = iota + 1
	ChildText
	ChildMarkdown
	ChildHeritage
)

func (k ChildKind) String() string {
	switch k {
	case ChildImage:
		return "image"
	case ChildText:
		return "text"
	case ChildMarkdown:
		return "markdown"
	case ChildHeritage:
		return "heritage"
	default:
		return "unknown"
	}
}

// Child is one element of a canvas aggregate. The concrete type is one of
// *ImageBox, *TextBox, *MarkdownBox or *Heritage.
type Child interface {
	Kind() ChildKind
}

func (*ImageBox) Kind() ChildKind    { return ChildImage }
func (*TextBox) Kind() ChildKind     { return ChildText }
func (*MarkdownBox) Kind() ChildKind { return ChildMarkdown }
func (*Heritage) Kind() ChildKind    { return ChildHeritage }

// Children flattens the canvas collections into one ordered slice. The
// returned values point into the canvas, so ids assigned by a store are
// visible on the canvas afterwards.
func (c *Canvas) Children() []Child {
	children := make([]Child, 0, len(c.Images)+len(c.Texts)+len(c.Markdowns)+len(c.Heritages))
	for i := range c.Images {
		children = append(children, &c.Images[i])
	}
	for i := range c.Texts {
		children = append(children, &c.Texts[i])
	}
	for i := range c.Markdowns {
		children = append(children, &c.Markdowns[i])
	}
	for i := range c.Heritages {
		children = append(children, &c.Heritages[i])
	}
	return children
}

// SetCanvasID stamps the parent canvas id onto every child.
func (c *Canvas) SetCanvasID(id int64) {
	c.ID = id
	for i := range c.Images {
		c.Images[i].CanvasID = id
	}
	for i := range c.Texts {
		c.Texts[i].CanvasID = id
	}
	for i := range c.Markdowns {
		c.Markdowns[i].CanvasID = id
	}
	for i := range c.Heritages {
		c.Heritages[i].CanvasID = id
	}
}
