/*
Package cli provides command-line interface utilities for Callisto.

The cli package includes output formatters, error types, and signal
handling helpers used by the callisto command.

Output Formatting:

The cli package supports multiple output formats (text, JSON, CSV) for
displaying command results:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Signal Handling:

Long-running commands run off a signal-canceled context:

	ctx := cli.SetupSignalHandler()
	err := srv.ListenAndServe(ctx)
*/
package cli
