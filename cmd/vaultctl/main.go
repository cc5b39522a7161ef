// Command vaultctl is a thin CLI over the vault runtime: create a new
// vault, open an existing one, and print its scheduler/cache statistics.
// Mount-lifecycle management (FUSE/NFS/WebDAV) is a separate adapter's
// concern and is not implemented here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		if ctx.Err() != nil {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
