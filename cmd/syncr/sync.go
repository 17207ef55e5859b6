package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syncr/internal/config"
	"github.com/openmined/syncr/internal/executor"
	"github.com/openmined/syncr/internal/ignore"
	"github.com/openmined/syncr/internal/plan"
	"github.com/openmined/syncr/internal/registry"
	"github.com/openmined/syncr/internal/selector"
	"github.com/openmined/syncr/internal/utils"
	"github.com/spf13/cobra"
)

func runSync(cmd *cobra.Command, args []string, cfg *config.Config) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	flags := cmd.Flags()

	dir, err := utils.CanonicalDir(".")
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	store := registry.NewStore(cfg.RegistryPath)
	reg, err := store.Load()
	if err != nil {
		return err
	}

	if list, _ := flags.GetBool("list"); list {
		format, _ := flags.GetString("format")
		return renderRemotes(out, dir, reg.ListRemotes(dir), format)
	}

	if name, _ := flags.GetString("remove"); name != "" {
		if err := reg.RemoveRemote(dir, name); err != nil {
			return err
		}
		if err := store.Save(reg); err != nil {
			return err
		}
		slog.Debug("remote removed", "dir", dir, "remote", name)
		fmt.Fprintln(out, green.Render("Removed remote "+name))
		return nil
	}

	req, err := syncRequest(cmd, args)
	if err != nil {
		return err
	}

	sel, err := selector.Select(ctx, reg, dir, req, newTUIPrompter())
	if err != nil {
		return err
	}
	if sel.Changed {
		if err := store.Save(reg); err != nil {
			return err
		}
	}
	if sel.Created {
		fmt.Fprintln(out, green.Render("Added remote "+sel.Remote.Name+" ("+sel.Remote.Target()+")"))
	}

	rules, err := ignore.NewResolver(cfg.DefaultIgnore).Resolve(dir, sel.Remote.IgnorePatterns)
	if err != nil {
		return err
	}

	p, err := plan.Build(dir, sel.Remote, rules)
	if err != nil {
		return err
	}

	if dryRun, _ := flags.GetBool("dry-run"); dryRun {
		return previewPlan(out, p, cfg)
	}

	return executePlan(ctx, cmd, p, store, cfg)
}

func syncRequest(cmd *cobra.Command, args []string) (selector.Request, error) {
	flags := cmd.Flags()

	var req selector.Request
	req.Name, _ = flags.GetString("name")
	req.Preferred, _ = flags.GetBool("preferred")
	req.OverridePaths, _ = flags.GetStringArray("override-path")
	req.IgnorePatterns, _ = flags.GetStringArray("ignore")

	if len(args) == 2 {
		req.Host, req.RemoteDir = args[0], args[1]
	}

	if flags.Changed("post-command") {
		cmdline, _ := flags.GetString("post-command")
		req.PostCommand = &cmdline
	}
	if flags.Changed("delete-override") {
		del, _ := flags.GetBool("delete-override")
		req.DeleteOverride = &del
	}

	for _, p := range req.IgnorePatterns {
		if err := ignore.ValidatePattern(p); err != nil {
			return req, err
		}
	}

	return req, nil
}

func executePlan(ctx context.Context, cmd *cobra.Command, p *plan.Plan, store *registry.Store, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	openShell, _ := cmd.Flags().GetBool("shell")

	runner := executor.NewProcessRunner()
	runner.Stdout = out
	runner.Stderr = cmd.ErrOrStderr()

	ex := executor.New(executor.Config{
		RsyncPath:  cfg.RsyncPath,
		RsyncFlags: cfg.RsyncFlags,
		SSHPath:    cfg.SSHPath,
		Shell:      cfg.Shell,
	}, runner)

	total := len(p.Ops)
	res, err := ex.Execute(ctx, p, store, executor.Options{
		OpenShell: openShell,
		OnOpStart: func(i int, op plan.TransferOp) {
			fmt.Fprintln(out, cyan.Render(fmt.Sprintf("[%d/%d] %s -> %s", i+1, total, op.Source, op.Dest)))
		},
	})
	if err != nil {
		return err
	}

	if res.RegistryErr != nil {
		fmt.Fprintln(out, yellow.Render("Warning: sync finished but the registry was not updated: "+res.RegistryErr.Error()))
	}
	if res.PostCommandErr != nil {
		return res.PostCommandErr
	}

	fmt.Fprintln(out, green.Render(fmt.Sprintf("Sync complete (%s)", p.Remote.Name)))
	return nil
}

// previewPlan prints every op with the rsync command it would run and a summary of
// the local files the ignore rules let through.
func previewPlan(w io.Writer, p *plan.Plan, cfg *config.Config) error {
	rsync := executor.NewRsync(cfg.RsyncPath, cfg.RsyncFlags, nil)

	fmt.Fprintf(w, "Remote %s (%s)\n", p.Remote.Name, p.Remote.Target())
	for i, op := range p.Ops {
		kind := "override"
		if op.IsPrimary() {
			kind = "primary"
		}
		del := ""
		if op.Delete {
			del = ", delete"
		}
		fmt.Fprintf(w, "%d. %s%s: %s -> %s\n", i+1, kind, del, op.Source, op.Dest)

		c := executor.Command{Name: rsync.Path, Args: rsync.Args(op)}
		fmt.Fprintln(w, gray.Render("   "+c.String()))
	}

	var files, unreadable int
	var size uint64
	err := p.Ops[0].Excludes.Walk(func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			unreadable++
			return nil
		}
		files++
		size += uint64(info.Size())
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", p.Root, err)
	}

	fmt.Fprintf(w, "%s files, %s in %s\n", humanize.Comma(int64(files)), humanize.Bytes(size), p.Root)
	if unreadable > 0 {
		fmt.Fprintf(w, "%d files could not be read\n", unreadable)
	}
	return nil
}
