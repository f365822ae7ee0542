// Package deps checks the external binaries the transcoder shells out to.
package deps
