package pagemanager

import (
	"container/list"
)

// --- Page Management ---

// PageID represents a unique identifier for a page on disk. Page 0 is
// reserved for the file header area and never handed out by allocation.
type PageID uint64

const InvalidPageID PageID = 0

// Page represents an in-memory copy of a disk page together with the
// bookkeeping the buffer pool needs: a pin count and a dirty flag. A page
// with a positive pin count must not be evicted; a dirty page must be
// written back before its frame is reused.
type Page struct {
	id       PageID
	data     []byte
	pinCount uint32
	isDirty  bool
	// Position of this page in its residency list (history or cache).
	listElement *list.Element
}

// NewPage creates a new Page instance with a zeroed buffer of the given size.
func NewPage(id PageID, size int) *Page {
	return &Page{
		id:   id,
		data: make([]byte, size),
	}
}

func (p *Page) GetListElement() *list.Element     { return p.listElement }
func (p *Page) SetListElement(elem *list.Element) { p.listElement = elem }
func (p *Page) GetData() []byte                   { return p.data }
func (p *Page) SetData(newData []byte)            { copy(p.data, newData) }
func (p *Page) GetPageID() PageID                 { return p.id }
func (p *Page) IsDirty() bool                     { return p.isDirty }
func (p *Page) SetDirty(dirty bool)               { p.isDirty = dirty }
func (p *Page) Pin()                              { p.pinCount++ }

func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}

func (p *Page) GetPinCount() uint32         { return p.pinCount }
func (p *Page) SetPinCount(pinCount uint32) { p.pinCount = pinCount }
