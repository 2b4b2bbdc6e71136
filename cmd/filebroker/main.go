// Command filebroker 运行文件秒传、断点续传与分段下载服务.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wyfcoding/filebroker/app"
)

const serviceName = "filebroker"

func main() {
	conf := flag.String("conf", app.DefaultConfigPath(serviceName), "path to config file")
	flag.Parse()

	ctx := context.Background()
	a, err := app.NewBuilder(serviceName).
		WithConfigPath(*conf).
		WithService(newService).
		Build(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		os.Exit(1)
	}
}
