package state

// a bitmap representing a set of capabilities
type Permission uint64

const (
	PermJoin            Permission = 1 << iota
	PermPublishLocation            // 2
	PermPublishStatus              // 4
)

var BuiltInPerms = map[string]Permission{
	"join":             PermJoin,
	"publish_location": PermPublishLocation,
	"publish_status":   PermPublishStatus,
}

func (p Permission) Has(flag Permission) bool {
	return p&flag == flag
}

// Role is a named permission set handed out by the handshake token.
type Role struct {
	Name        string
	Permissions Permission
	// Global roles act on every order, e.g. the dispatch backend.
	Global bool
}
