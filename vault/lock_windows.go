//go:build windows

package vault

import "os"

// No flock on windows: the file is still written so the data directory
// looks the same, but a second process is not kept out.
func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) {}
