package common

// For detecting incoming message type. Each struct below has Type set to the
// struct type name.
type MsgType struct {
	Type string
}

// Sent from client to server.
type Init struct {
	Type  string
	DocId string // document (wiki page) to edit
}

// Sent from server to client.
type Snapshot struct {
	Type     string
	ClientId string // id for this client

	BasePatchId int    // initial BasePatchId
	Text        string // initial text
	LogootStr   string // encoded crdt.Logoot
}

// Sent from client to server.
type Update struct {
	Type     string
	ClientId string // client that created this patch

	BasePatchId int      // last PatchId the client had observed
	OpStrs      []string // encoded ops
}

// Sent from server to client.
type Change struct {
	Type     string
	ClientId string // client that created this patch

	PatchId int
	OpStrs  []string // encoded ops, with insertion requests resolved
}

// Sent from server to client when an update is rejected.
type Error struct {
	Type    string
	Message string
}
