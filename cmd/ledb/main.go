// Command ledb inspects a ledb environment: collections, indexes,
// statistics and raw document dumps.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/katyo/ledb"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ledb:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var path string
	var noSubDir bool

	open := func() (*ledb.Storage, error) {
		return ledb.Open(path, ledb.Options{ReadOnly: true, NoSubDir: noSubDir})
	}

	root := &cobra.Command{
		Use:           "ledb",
		Short:         "Inspect a ledb document database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&path, "path", "p", ".", "environment path")
	root.PersistentFlags().BoolVar(&noSubDir, "no-subdir", false, "path is the data file itself")

	root.AddCommand(&cobra.Command{
		Use:   "collections",
		Short: "List the collections of the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			names, err := s.GetCollections()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "indexes <collection>",
		Short: "List the indexes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			coll, err := s.Collection(args[0])
			if err != nil {
				return err
			}
			defs, err := coll.GetIndexes()
			if err != nil {
				return err
			}
			for _, def := range defs {
				fmt.Printf("%s\t%s\t%s\n", def.Path, def.Kind, def.Key)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show environment configuration and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			info, err := s.GetInfo()
			if err != nil {
				return err
			}
			fmt.Printf("path:             %s\n", info.Path)
			fmt.Printf("map size:         %s\n", humanize.IBytes(uint64(info.MapSize)))
			fmt.Printf("last transaction: %d\n", info.LastTransaction)
			fmt.Printf("readers:          %d/%d\n", info.NumReaders, info.MaxReaders)
			fmt.Printf("read only:        %v\n", info.ReadOnly)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show aggregated B-tree statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			stats, err := s.GetStats()
			if err != nil {
				return err
			}
			fmt.Printf("page size:    %s\n", humanize.IBytes(uint64(stats.PageSize)))
			fmt.Printf("btree depth:  %d\n", stats.BTreeDepth)
			fmt.Printf("branch pages: %d\n", stats.BranchPages)
			fmt.Printf("leaf pages:   %d\n", stats.LeafPages)
			fmt.Printf("entries:      %d\n", stats.DataEntries)
			return nil
		},
	})

	dump := &cobra.Command{
		Use:   "dump <collection>",
		Short: "Print every document of a collection as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			coll, err := s.Collection(args[0])
			if err != nil {
				return err
			}
			cur, err := coll.Dump()
			if err != nil {
				return err
			}
			defer cur.Close()
			enc := json.NewEncoder(os.Stdout)
			for cur.Next() {
				if err := enc.Encode(cur.Doc()); err != nil {
					return err
				}
			}
			return cur.Err()
		},
	}
	root.AddCommand(dump)

	return root
}
