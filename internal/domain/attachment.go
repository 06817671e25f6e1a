package domain

import "fmt"

// LinkBinding records whether an AttachmentConf already has a Link.
// It is either Pending or Bound.
type LinkBinding interface {
	isLinkBinding()
}

// Pending is the binding of an attachment that has not been created yet.
type Pending struct{}

// Bound is the binding of an attachment backed by an existing Link.
type Bound struct {
	LinkID int64
}

func (Pending) isLinkBinding() {}
func (Bound) isLinkBinding()   {}

// AttachmentConf describes one desired attachment of a UserAS.
// It only lives for the duration of a reconciliation call.
type AttachmentConf struct {
	AttachmentPointID int64
	PublicIP          string
	PublicPort        int
	BindIP            string
	BindPort          int
	UseVPN            bool
	Active            bool
	Link              LinkBinding // nil is treated as Pending
}

// LinkID returns the id of the bound link, if any.
func (c AttachmentConf) LinkID() (int64, bool) {
	if b, ok := c.Link.(Bound); ok {
		return b.LinkID, true
	}
	return 0, false
}

func (c AttachmentConf) String() string {
	link := "pending"
	if id, ok := c.LinkID(); ok {
		link = fmt.Sprintf("link=%d", id)
	}
	return fmt.Sprintf("AttachmentConf(ap=%d public=%s:%d bind=%s:%d vpn=%t active=%t %s)",
		c.AttachmentPointID, c.PublicIP, c.PublicPort, c.BindIP, c.BindPort, c.UseVPN, c.Active, link)
}
