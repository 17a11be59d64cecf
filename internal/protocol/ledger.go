package protocol

// Record is the domain payload of a block. Membership blocks carry
// member_id, status and expiry; the genesis block carries info.
type Record map[string]any

const (
	FieldMemberID = "member_id"
	FieldStatus   = "status"
	FieldExpiry   = "expiry"
	FieldInfo     = "info"
)

const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusInvalid = "invalid"
)

// MembershipRecord builds the record stored for one membership fact. A nil
// expiry is kept as an explicit null so it is part of the signed content.
func MembershipRecord(memberID, status string, expiry *string) Record {
	rec := Record{
		FieldMemberID: memberID,
		FieldStatus:   status,
		FieldExpiry:   nil,
	}
	if expiry != nil {
		rec[FieldExpiry] = *expiry
	}
	return rec
}

func (r Record) str(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (r Record) MemberID() (string, bool) { return r.str(FieldMemberID) }

func (r Record) Status() string {
	s, _ := r.str(FieldStatus)
	return s
}

// Expiry returns the raw expiry value when it is a string.
func (r Record) Expiry() (string, bool) { return r.str(FieldExpiry) }

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Block is one hash-linked ledger entry as stored and as rendered on the wire.
type Block struct {
	Index       int64  `json:"index"`
	Timestamp   string `json:"timestamp"`
	Record      Record `json:"record"`
	PrevHash    string `json:"prev_hash"`
	ContentHash string `json:"content_hash"`
	Signature   string `json:"signature"`
}

func (b Block) Clone() Block {
	b.Record = b.Record.Clone()
	return b
}
