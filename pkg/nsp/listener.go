package nsp

import "sync"

// ReasonCode is an NSP disconnect reason code. The exact wire values are
// defined by the DECnet NSP specification; spec §9's open question leaves
// their numeric spelling to the implementer, so these are assigned in
// table order and only their symbolic names are load-bearing.
type ReasonCode uint16

const (
	ReasonNone ReasonCode = 0
	ReasonID   ReasonCode = 1 // destination object-name error
	ReasonUS   ReasonCode = 2 // source object-name error
	ReasonIO   ReasonCode = 3 // access-data / user-data format error
	ReasonNL   ReasonCode = 4 // no-link: no connection for the addressed link
	ReasonDC   ReasonCode = 5 // disconnect confirm, normal
)

// ciErrStep names a step of CI-body parsing that can fail, per the table
// in spec §4.2.
type ciErrStep uint8

const (
	stepOK ciErrStep = iota
	stepTruncatedHeader
	stepDestName
	stepDestNameType
	stepSourceName
	stepTruncatedMenuver
	stepTruncatedBeforeData
	stepAccessData
	stepUserData
)

// ciErrTable maps each parse step to its reason code, per spec §4.2. A
// zero reason means "no reply".
var ciErrTable = map[ciErrStep]ReasonCode{
	stepOK:                  ReasonNone,
	stepTruncatedHeader:     ReasonNone,
	stepDestName:            ReasonID,
	stepDestNameType:        ReasonID,
	stepSourceName:          ReasonUS,
	stepTruncatedMenuver:    ReasonNone,
	stepTruncatedBeforeData: ReasonNone,
	stepAccessData:          ReasonIO,
	stepUserData:            ReasonIO,
}

// objectDescriptor is a DECnet object name/number descriptor as carried in
// a CI body.
type objectDescriptor struct {
	Number uint8
	Type   uint8
	Name   string
}

// ciBody is the fully decoded Connection-Initiate body of spec §6.
type ciBody struct {
	SrcPort  uint16
	DstPort  uint16
	Services uint8
	Info     uint8
	Segsize  uint16
	Dest     objectDescriptor
	Source   objectDescriptor
	Menuver  uint8
	Access   [3][]byte
	UserData []byte
}

const (
	menuverAccessPresent = 0x01
	menuverUserPresent   = 0x02
	maxAccessFieldLen    = 39
	maxUserFieldLen      = 16
)

// parseObjectDescriptor decodes one destination/source object descriptor:
// 1 byte number, if 0 then 1 byte type + 1 byte name length + name.
func parseObjectDescriptor(buf []byte) (objectDescriptor, []byte, bool) {
	var d objectDescriptor
	if len(buf) < 1 {
		return d, nil, false
	}
	d.Number = buf[0]
	buf = buf[1:]
	if d.Number != 0 {
		return d, buf, true
	}
	if len(buf) < 2 {
		return d, nil, false
	}
	d.Type = buf[0]
	nameLen := int(buf[1])
	buf = buf[2:]
	if len(buf) < nameLen {
		return d, nil, false
	}
	d.Name = string(buf[:nameLen])
	return d, buf[nameLen:], true
}

// parseCIBody decodes a Connection-Initiate body per spec §4.2 and §6,
// returning the failing step (stepOK on success).
func parseCIBody(buf []byte) (ciBody, ciErrStep) {
	var b ciBody
	if len(buf) < 8 {
		return b, stepTruncatedHeader
	}
	b.SrcPort = le16(buf[0:2])
	b.DstPort = le16(buf[2:4])
	b.Services = buf[4]
	b.Info = buf[5]
	b.Segsize = le16(buf[6:8])
	rest := buf[8:]

	dest, rest, ok := parseObjectDescriptor(rest)
	if !ok {
		return b, stepDestName
	}
	if dest.Number == 0 && dest.Type > 1 {
		return b, stepDestNameType
	}
	b.Dest = dest

	source, rest, ok := parseObjectDescriptor(rest)
	if !ok {
		return b, stepSourceName
	}
	b.Source = source

	if len(rest) < 1 {
		return b, stepTruncatedMenuver
	}
	b.Menuver = rest[0]
	rest = rest[1:]

	if b.Menuver&(menuverAccessPresent|menuverUserPresent) == 0 {
		return b, stepOK
	}
	if len(rest) < 1 {
		return b, stepTruncatedBeforeData
	}

	if b.Menuver&menuverAccessPresent != 0 {
		for i := 0; i < 3; i++ {
			if len(rest) < 1 {
				return b, stepAccessData
			}
			n := int(rest[0])
			rest = rest[1:]
			if n > maxAccessFieldLen || len(rest) < n {
				return b, stepAccessData
			}
			b.Access[i] = rest[:n]
			rest = rest[n:]
		}
	}

	if b.Menuver&menuverUserPresent != 0 {
		if len(rest) < 1 {
			return b, stepUserData
		}
		n := int(rest[0])
		rest = rest[1:]
		if n > maxUserFieldLen || len(rest) < n {
			return b, stepUserData
		}
		b.UserData = rest[:n]
	}

	return b, stepOK
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// Listener is a passive endpoint registered under its destination object
// name. ListenerTable matches on Name only; Number is carried but not
// consulted when matching.
type Listener struct {
	Name       string
	Number     uint8
	acceptMu   sync.Mutex
	acceptQ    []*ciBody
	acceptCap  int
}

// NewListener creates a listener with the given accept-queue capacity.
func NewListener(name string, number uint8, acceptCap int) *Listener {
	return &Listener{Name: name, Number: number, acceptCap: acceptCap}
}

// tryAccept appends body to the listener's accept queue, reporting false
// if the queue is already at capacity (spec §4.6/§7: AcceptQueueFull).
func (l *Listener) tryAccept(body *ciBody) bool {
	l.acceptMu.Lock()
	defer l.acceptMu.Unlock()
	if len(l.acceptQ) >= l.acceptCap {
		return false
	}
	l.acceptQ = append(l.acceptQ, body)
	return true
}

// Accept pops the oldest pending Connection-Initiate, if any. Engine.Accept
// is the usual caller: it turns the popped body into a running Connection
// and replies with a Connect-Confirm.
func (l *Listener) Accept() (*ciBody, bool) {
	l.acceptMu.Lock()
	defer l.acceptMu.Unlock()
	if len(l.acceptQ) == 0 {
		return nil, false
	}
	body := l.acceptQ[0]
	l.acceptQ = l.acceptQ[1:]
	return body, true
}

// Pending reports the number of queued Connection-Initiate segments.
func (l *Listener) Pending() int {
	l.acceptMu.Lock()
	defer l.acceptMu.Unlock()
	return len(l.acceptQ)
}

// ListenerTable is the registry of listeners keyed by destination object
// name.
type ListenerTable struct {
	mu   sync.RWMutex
	byName map[string]*Listener
}

// NewListenerTable creates an empty registry.
func NewListenerTable() *ListenerTable {
	return &ListenerTable{byName: make(map[string]*Listener)}
}

// Listen registers l, replacing any previous listener under the same name.
func (t *ListenerTable) Listen(l *Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byName[l.Name] = l
}

// Unlisten removes the listener registered under name.
func (t *ListenerTable) Unlisten(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byName, name)
}

// match looks up the listener matching a decoded CI body by destination
// object name, per spec §4.2.
func (t *ListenerTable) match(dest objectDescriptor) (*Listener, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.byName[dest.Name]
	return l, ok
}

// matchListener is the ListenerMatcher of spec §4.2: it decodes a CI body
// and, on success, looks up the destination listener. On any parse failure
// it returns the failing step so the caller can consult ciErrTable.
func matchListener(table *ListenerTable, buf []byte) (body ciBody, listener *Listener, step ciErrStep) {
	body, step = parseCIBody(buf)
	if step != stepOK {
		return body, nil, step
	}
	listener, _ = table.match(body.Dest)
	return body, listener, stepOK
}
