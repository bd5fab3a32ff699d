package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ruffel/remotefs"
	"github.com/ruffel/remotefs/worker"
)

func (a *app) hostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List configured hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			for _, name := range a.cfg.Names() {
				h := a.cfg.Hosts[name]

				addr := h.Host
				if h.SSHAlias != "" {
					addr = "ssh:" + h.SSHAlias
				}

				if h.Username != "" {
					addr = h.Username + "@" + addr
				}

				fmt.Fprintf(out, "%s  %s\n", titleStyle.Render(name), dimStyle.Render(addr))
			}

			return nil
		},
	}
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [host]",
		Short: "Connect and show the remote session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}

			h, err := a.host(name)
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			start := time.Now()

			c, err := h.Connection(cmd.Context())
			if err != nil {
				return err
			}

			info := c.ServerInfo()
			stats := c.Workers()
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, checkStyle.Render(fmt.Sprintf("✓ connected to %s in %v", h.Name(), time.Since(start).Round(time.Millisecond))))
			fmt.Fprintf(out, "home     %s\n", info.Home)
			fmt.Fprintf(out, "workers  %d (%d idle)\n", stats.Size, stats.Idle)
			fmt.Fprintf(out, "cache    %s\n", orNone(c.Cache().Base()))

			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return dimStyle.Render("memory only")
	}

	return s
}

func (a *app) lsCmd() *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "ls [host:]path",
		Short: "List a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, h, p, err := a.open(args[0])
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			ctx := cmd.Context()

			entries, err := fsys.ReadDirectory(ctx, p)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			for _, e := range entries {
				name := styleName(e.Name, e.Type)
				if !long {
					fmt.Fprintln(out, name)

					continue
				}

				st, err := fsys.Stat(ctx, path.Join(p, e.Name))
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "%-4s %10d %s %s\n", st.Type, st.Size, formatTime(st.Mtime), name)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show type, size and modification time")

	return cmd
}

func styleName(name string, t worker.FileType) string {
	switch {
	case t.IsSymlink():
		return linkStyle.Render(name)
	case t.IsDir():
		return dirStyle.Render(name + "/")
	default:
		return name
	}
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Format("Jan _2 15:04")
}

func (a *app) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat [host:]path",
		Short: "Show metadata of a remote path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, h, p, err := a.open(args[0])
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			st, err := fsys.Stat(cmd.Context(), p)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "type   %s\n", st.Type)
			fmt.Fprintf(out, "size   %d\n", st.Size)
			fmt.Fprintf(out, "ctime  %s\n", time.UnixMilli(st.Ctime).Format(time.RFC3339))
			fmt.Fprintf(out, "mtime  %s\n", time.UnixMilli(st.Mtime).Format(time.RFC3339))

			return nil
		},
	}
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat [host:]path",
		Short: "Print a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, h, p, err := a.open(args[0])
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			data, err := fsys.ReadFile(cmd.Context(), p)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)

			return err
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	var noClobber bool

	cmd := &cobra.Command{
		Use:   "put [host:]path [local-file]",
		Short: "Write a remote file from a local file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)

			if len(args) == 2 && args[1] != "-" {
				data, err = os.ReadFile(args[1])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}

			if err != nil {
				return err
			}

			fsys, h, p, err := a.open(args[0])
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			ctx := cmd.Context()

			// Seed the cache so edits of large text files go out as a delta.
			if !noClobber {
				_ = fsys.Prefetch(ctx, p)
			}

			opts := worker.WriteOptions{Create: true, Overwrite: !noClobber}
			if err := fsys.WriteFile(ctx, p, data, opts); err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), checkStyle.Render(fmt.Sprintf("✓ wrote %d bytes to %s", len(data), p)))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&noClobber, "no-clobber", "n", false, "Fail if the remote file exists")

	return cmd
}

func (a *app) mvCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "mv [host:]from to",
		Short: "Rename a remote path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, h, from, err := a.open(args[0])
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			return fsys.Rename(cmd.Context(), from, resolve(h, args[1]), worker.RenameOptions{Overwrite: force})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing destination")

	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [host:]path",
		Short: "Delete a remote file or directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, h, p, err := a.open(args[0])
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			return fsys.Delete(cmd.Context(), p)
		},
	}
}

func (a *app) mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir [host:]path",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, h, p, err := a.open(args[0])
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			return fsys.CreateDirectory(cmd.Context(), p)
		},
	}
}

func (a *app) realpathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "realpath [host:]path",
		Short: "Resolve a remote path, expanding ~",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, h, p, err := a.open(args[0])
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			abs, err := fsys.ExpandPath(cmd.Context(), p)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), abs)

			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var (
		recursive bool
		excludes  []string
	)

	cmd := &cobra.Command{
		Use:   "watch [host:]path",
		Short: "Print change events under a remote path until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, p := target(args[0])
			out := cmd.OutOrStdout()

			h, err := a.host(name, remotefs.WithWatchHandler(func(ev remotefs.WatchEvent) {
				fmt.Fprintf(out, "%s %-8s %s\n", dimStyle.Render(time.Now().Format(time.TimeOnly)), ev.Kind, ev.Path)
			}))
			if err != nil {
				return err
			}

			defer func() { _ = h.Reset() }()

			ctx := cmd.Context()
			p = resolve(h, p)

			opts := remotefs.WatchOptions{Recursive: recursive, Excludes: excludes}
			if err := h.AddWatch(ctx, "cli", p, opts); err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), titleStyle.Render("watching "+h.Name()+":"+p))

			// Recorded watches are replayed on every new connection.
			for {
				c, err := h.Connection(ctx)
				if err != nil {
					return err
				}

				select {
				case <-ctx.Done():
					return nil
				case <-c.Done():
					a.log.Warn("connection lost, reconnecting", zap.Error(c.State().Err))
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Watch the whole tree")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Glob patterns to ignore")

	return cmd
}
