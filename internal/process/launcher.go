package process

import "log/slog"

// Launcher starts the runtime detached from the caller and returns its pid.
// The launched process must not be a child the caller has to reap.
type Launcher interface {
	Launch(spec LaunchSpec) (int, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(spec LaunchSpec) (int, error)

func (f LauncherFunc) Launch(spec LaunchSpec) (int, error) { return f(spec) }

// DefaultLauncher returns the platform launcher.
func DefaultLauncher(log *slog.Logger) Launcher {
	return newPlatformLauncher(log)
}
