// Package remotefs gives access to the filesystem of remote hosts over SSH.
//
// A small Python agent is installed on each host and started several times
// over one SSH session. Each running agent is a worker that executes one
// filesystem operation at a time; a Connection keeps a priority pool of them
// and a separate watch worker that reports changes.
//
// Basic usage:
//
//	script, err := agent.Load("worker.zip")
//	if err != nil {
//		return err
//	}
//
//	host := remotefs.NewHost("build", remotefs.HostConfig{
//		Host:     "build.example.com",
//		Username: "deploy",
//		Agent:    true,
//	}, remotefs.WithAgentScript(script), remotefs.WithCacheDir(cacheDir))
//	defer host.Reset()
//
//	fsys := remotefs.NewFileSystem(host)
//	data, err := fsys.ReadFile(ctx, "~/app/config.yaml")
//
// Connecting runs through the phases Idle, Connecting, Bootstrapping and
// Ready. Any failure of the session or of a pooled worker moves the
// connection to Error and fails every pending and later operation with a
// *ConnectionError; Host.Connection then opens a fresh one.
package remotefs
