package redis

import "fmt"

// keys derives every Redis key and channel from the configured prefix
type keys struct {
	prefix string
}

// tree returns the hash holding every leaf of the tree
func (k keys) tree() string {
	return fmt.Sprintf("%s:tree", k.prefix)
}

// changes returns the Pub/Sub channel carrying changed paths
func (k keys) changes() string {
	return fmt.Sprintf("%s:changes", k.prefix)
}

// conns returns the SET of live connection ids
func (k keys) conns() string {
	return fmt.Sprintf("%s:conns", k.prefix)
}

// conn returns the heartbeat key of a connection
func (k keys) conn(id string) string {
	return fmt.Sprintf("%s:conn:%s", k.prefix, id)
}

// hooks returns the HASH of a connection's disconnect hooks (path -> JSON value)
func (k keys) hooks(id string) string {
	return fmt.Sprintf("%s:ondisconnect:%s", k.prefix, id)
}
