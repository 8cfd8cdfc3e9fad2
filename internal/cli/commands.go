package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/tis24dev/proxmox-b2/internal/backup"
	"github.com/tis24dev/proxmox-b2/internal/config"
	"github.com/tis24dev/proxmox-b2/internal/input"
	"github.com/tis24dev/proxmox-b2/internal/orchestrator"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/tui"
	"github.com/tis24dev/proxmox-b2/internal/types"
	"github.com/tis24dev/proxmox-b2/internal/version"
)

func runCmd(opts Options) *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Collect, archive, upload and prune (the default command)",
		Action: runAction(opts),
	}
}

func runAction(opts Options) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if cmd.NArg() > 0 {
			return usageError("unexpected argument %q", cmd.Args().First())
		}
		s, err := openSession(cmd, opts)
		if err != nil {
			return err
		}
		defer s.close()

		run := s.orch.NewRun(s.cfg)
		s.attachRun(run)
		if err := s.preflight(ctx); err != nil {
			return err
		}
		mode := "live"
		if run.DryRun {
			mode = "dry run"
		}
		s.logger.Info("%s %s starting (%s) -> %s", appName, version.Signature(), mode, s.cfg.RemoteRoot())

		result, err := s.orch.Execute(ctx, run)
		printRunSummary(opts.Stdout, result)
		return err
	}
}

func listCmd(opts Options) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Show local archives and the archives at the remote target",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "local",
				Usage: "Only list the local archive directory",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			run := s.orch.NewRun(s.cfg)
			withRemote := !cmd.Bool("local") && !run.DryRun
			if withRemote {
				if err := s.prepareRemote(ctx, run); err != nil {
					return err
				}
			}
			inv, err := s.orch.Inventory(ctx, run, withRemote)
			if err != nil {
				return &ExitError{Code: types.ExitGenericError, Err: err}
			}
			printInventory(opts.Stdout, inv, run, withRemote, s.orch.Now())
			if inv.RemoteErr != nil {
				return &ExitError{Code: types.ExitStorageError, Err: inv.RemoteErr}
			}
			return nil
		},
	}
}

func pruneCmd(opts Options) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Apply remote retention without building an archive",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			run := s.orch.NewRun(s.cfg)
			s.attachRun(run)
			if err := s.preflight(ctx); err != nil {
				return err
			}
			res, err := s.orch.Prune(ctx, run)
			if err != nil {
				return err
			}
			printPruneResult(opts.Stdout, res, run)
			if len(res.Failed) > 0 {
				return &ExitError{
					Code: types.ExitStorageError,
					Err:  fmt.Errorf("%d remote deletion(s) failed", len(res.Failed)),
				}
			}
			return nil
		},
	}
}

func restoreCmd(opts Options) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Download an archive and its checksum, verify and place them in a directory",
		ArgsUsage: "[NAME]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dest",
				Usage: "Destination directory (default <ARCHIVE_DIR>/restore)",
			},
			&cli.BoolFlag{
				Name:  "cli",
				Usage: "Use a numbered prompt instead of the interactive picker",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			run := s.orch.NewRun(s.cfg)
			s.attachRun(run)
			name := cmd.Args().First()
			dest := cmd.String("dest")
			if dest == "" {
				dest = filepath.Join(s.cfg.ArchiveDir, "restore")
			}
			if run.DryRun {
				if name == "" {
					s.logger.Skip("Restore (dry run): remote not listed, give an archive name to preview")
					return nil
				}
				s.logger.Skip("Restore (dry run): would download %s into %s", run.Target.ObjectPath(name), dest)
				return nil
			}

			if err := s.prepareRemote(ctx, run); err != nil {
				return err
			}
			if name == "" {
				name, err = chooseArchive(ctx, cmd, opts, s, run)
				if err != nil {
					if errors.Is(err, tui.ErrPickerAborted) || input.IsAborted(err) {
						s.logger.Skip("Restore aborted")
						return nil
					}
					return err
				}
			}

			path, err := s.orch.Restore(ctx, s.remote, run, name, dest)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.Stdout, "Restored %s\n", path)
			return nil
		},
	}
}

// chooseArchive lets the user pick a remote archive, newest first. The
// tview picker is used on a terminal unless --cli is given.
func chooseArchive(ctx context.Context, cmd *cli.Command, opts Options, s *session, run *orchestrator.Run) (string, error) {
	archives, _, err := s.orch.RemoteArchives(ctx, run)
	if err != nil {
		return "", &ExitError{Code: types.ExitStorageError, Err: err}
	}
	if len(archives) == 0 {
		return "", &ExitError{Code: types.ExitGenericError, Err: fmt.Errorf("no archives at %s", run.Target)}
	}

	newestFirst := make([]orchestrator.RemoteArchive, 0, len(archives))
	for i := len(archives) - 1; i >= 0; i-- {
		newestFirst = append(newestFirst, archives[i])
	}
	title := fmt.Sprintf("Archives at %s", run.Target)

	var idx int
	if !cmd.Bool("cli") && opts.IsTerminal() {
		items := make([]tui.PickerItem, 0, len(newestFirst))
		for _, a := range newestFirst {
			items = append(items, tui.PickerItem{
				Name:        a.Name,
				Detail:      archiveDetail(a.RemoteObject, s.orch.Now()),
				HasChecksum: a.HasChecksum,
			})
		}
		idx, err = opts.PickArchive(title, items)
	} else {
		labels := make([]string, 0, len(newestFirst))
		for _, a := range newestFirst {
			label := fmt.Sprintf("%s (%s)", a.Name, archiveDetail(a.RemoteObject, s.orch.Now()))
			if !a.HasChecksum {
				label += " [no checksum]"
			}
			labels = append(labels, label)
		}
		idx, err = input.SelectIndex(ctx, bufio.NewReader(opts.Stdin), opts.Stdout, title, labels)
	}
	if err != nil {
		return "", err
	}
	return newestFirst[idx].Name, nil
}

func verifyCmd(opts Options) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check a local archive against its .sha256 sidecar",
		ArgsUsage: "FILE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return usageError("verify expects exactly one archive path")
			}
			level := types.LogLevelInfo
			if cmd.IsSet("log-level") {
				var err error
				if level, err = types.ParseLogLevel(cmd.String("log-level")); err != nil {
					return &ExitError{Code: types.ExitConfigError, Err: err}
				}
			}
			logger := newLogger(level, false, false, opts.Stdout)

			path := cmd.Args().First()
			if storage.IsChecksumName(path) {
				path = path[:len(path)-len(storage.ChecksumSuffix)]
			}
			if err := backup.VerifyArchive(ctx, logger, path); err != nil {
				return &ExitError{Code: types.ExitVerificationError, Err: err}
			}
			fmt.Fprintf(opts.Stdout, "%s: OK\n", path)
			return nil
		},
	}
}

func configCmd(opts Options) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create or upgrade the configuration file",
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write the commented configuration template",
				ArgsUsage: "[PATH]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Replace an existing file",
					},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					path := configPathArg(cmd)
					if err := config.WriteTemplate(path, cmd.Bool("force")); err != nil {
						return &ExitError{Code: types.ExitConfigError, Err: err}
					}
					fmt.Fprintf(opts.Stdout, "Configuration template written to %s\n", path)
					return nil
				},
			},
			{
				Name:      "upgrade",
				Usage:     "Merge an existing configuration with the current template (--dry-run only reports)",
				ArgsUsage: "[PATH]",
				Action: func(_ context.Context, cmd *cli.Command) error {
					path := configPathArg(cmd)
					res, err := config.UpgradeConfigFile(path, cmd.Bool("dry-run"))
					if err != nil {
						return &ExitError{Code: types.ExitConfigError, Err: err}
					}
					printUpgradeResult(opts.Stdout, path, res, cmd.Bool("dry-run"))
					return nil
				},
			},
		},
	}
}

func configPathArg(cmd *cli.Command) string {
	if cmd.NArg() > 0 {
		return cmd.Args().First()
	}
	return cmd.String("config")
}
