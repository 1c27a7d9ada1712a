// Package tls serves the webhook certificate from disk and reloads it
// when the files change.
//
// # Reload
//
// CertReloader watches the directories holding the certificate and key
// with fsnotify. Writes and creates are debounced, then the pair is
// loaded again. A pair that fails to load is logged and the previous
// certificate stays in use, so a half-written rotation never takes the
// listener down.
//
// Directories are watched instead of files so that Kubernetes secret
// volume updates, which swap a symlink, are observed.
package tls
