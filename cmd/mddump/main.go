// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	mdimage "github.com/saferwall/mdimage"
)

var (
	verbose     bool
	tables      bool
	userStrings bool
	anomalies   bool
	all         bool
)

func isDirectory(path string) bool {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fileInfo.IsDir()
}

func dumpImage(filename string, cmd *cobra.Command) {
	img, err := mdimage.New(filename, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while parsing file: %s, reason: %s\n", filename, err)
		return
	}
	defer img.Close()

	fmt.Printf("%s: %s\n", filename, img.VersionString())

	wantTables, _ := cmd.Flags().GetBool("tables")
	wantAll, _ := cmd.Flags().GetBool("all")
	if wantTables || wantAll {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Table\tRows\t")
		for id := mdimage.Module; id <= mdimage.CustomDebugInformation; id++ {
			count, ok := img.Table(id)
			if !ok || count == 0 {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t\n", id, count)
		}
		w.Flush()
	}

	wantUS, _ := cmd.Flags().GetBool("us")
	if wantUS || wantAll {
		err := img.WalkUserStringHeap(func(offset uint32, s string, special bool) bool {
			fmt.Printf("#US[0x%x] = %q (special=%v)\n", offset, s, special)
			return true
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error while walking #US heap: %s\n", err)
		}
	}

	wantAnomalies, _ := cmd.Flags().GetBool("anomalies")
	if wantAnomalies || wantAll {
		for _, ano := range img.Anomalies {
			fmt.Printf("anomaly: %s\n", ano)
		}
	}
}

func dump(cmd *cobra.Command, args []string) {
	filePath := args[0]

	if !isDirectory(filePath) {
		dumpImage(filePath, cmd)
	} else {
		fileList := []string{}
		filepath.Walk(filePath, func(path string, f os.FileInfo, err error) error {
			if !isDirectory(path) {
				fileList = append(fileList, path)
			}
			return nil
		})

		for _, file := range fileList {
			dumpImage(file, cmd)
		}
	}
}

func main() {

	var rootCmd = &cobra.Command{
		Use:   "mddump",
		Short: "An ECMA-335 metadata dumper",
		Long:  "Dumps the logical tables and heaps of managed-assembly metadata blobs",
		Run: func(cmd *cobra.Command, args []string) {
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Long:  "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print("You are using version 0.0.1")
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Dumps the file",
		Long:  "Dumps the logical metadata tables and heaps of the file",
		Args:  cobra.MinimumNArgs(1),
		Run:   dump,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	dumpCmd.Flags().BoolVarP(&tables, "tables", "", false, "Dump table row counts")
	dumpCmd.Flags().BoolVarP(&userStrings, "us", "", false, "Dump the #US heap")
	dumpCmd.Flags().BoolVarP(&anomalies, "anomalies", "", false, "Dump recorded anomalies")
	dumpCmd.Flags().BoolVarP(&all, "all", "", false, "Dump everything")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

}
