// Package datastore is the GUID-addressed store for job input ("supplied")
// and output ("generated") data. It keeps blob metadata in memory and the
// bytes in a storage.Storage backend. A GUID becomes resolvable only after
// its bytes are fully published.
package datastore
