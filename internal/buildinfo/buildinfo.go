// Package buildinfo exposes version details stamped at link time, e.g.
// -ldflags "-X routeopt/internal/buildinfo.Version=v1.2.0".
package buildinfo

import "runtime/debug"

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    out := map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
    if bi, ok := debug.ReadBuildInfo(); ok {
        out["go"] = bi.GoVersion
        if out["commit"] == "" {
            for _, s := range bi.Settings {
                if s.Key == "vcs.revision" { out["commit"] = s.Value }
            }
        }
    }
    return out
}
