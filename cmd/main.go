/*
Copyright 2025 Openshelf Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openshelf/openshelf"
	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/database"
	"github.com/openshelf/openshelf/internal/notification"
)

// Openshelf represents the CLI application, encapsulating the root Cobra command.
type Openshelf struct {
	cmd *cobra.Command
}

// shelfInstance holds the runtime Openshelf instance and its configuration,
// shared by every subcommand.
type shelfInstance struct {
	shelf *openshelf.Openshelf
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the Openshelf instance before
// any command runs.
func preRun(app *shelfInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("openshelf.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newShelf, err := setupShelf(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.shelf = newShelf
		app.cnf = cnf

		return nil
	}
}

// setupShelf connects the data source and wires the pipeline from it.
func setupShelf(cfg *config.Configuration) (*openshelf.Openshelf, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newShelf, err := openshelf.NewOpenshelf(db)
	if err != nil {
		return nil, fmt.Errorf("error creating openshelf: %v", err)
	}
	return newShelf, nil
}

// NewCLI creates the command-line interface for the Openshelf application.
func NewCLI() *Openshelf {
	var configFile string
	b := &shelfInstance{}

	var rootCmd = &cobra.Command{
		Use:   "openshelf",
		Short: "Book metadata aggregation service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./openshelf.json", "Configuration file for openshelf")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(enhancerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(backupCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Openshelf{cmd: rootCmd}
}

func (w Openshelf) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
