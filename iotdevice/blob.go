package iotdevice

import (
	"context"
	"io"
)

// BlobPeer is the blob-upload collaborator UploadToBlob delegates to,
// an out-of-scope peer per spec.md §1. It also receives every freshly
// minted credential so it can authenticate independently of the
// session's own transport connection.
type BlobPeer interface {
	// UploadToBlob streams length bytes from stream to the blob named
	// blobName.
	UploadToBlob(ctx context.Context, blobName string, stream io.Reader, length int64) error

	// OnCredentialRefresh is called with every signature the session
	// mints or forwards, ahead of the transport call that consumes it.
	OnCredentialRefresh(signature string)
}
