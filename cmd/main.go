/*
Copyright 2026 Teaflow Authors.

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

	"github.com/teaflowhq/teaflow"
	"github.com/teaflowhq/teaflow/config"
	"github.com/teaflowhq/teaflow/database"
	"github.com/teaflowhq/teaflow/internal/notification"
)

// Teaflow represents the CLI application, encapsulating the root Cobra command.
type Teaflow struct {
	cmd *cobra.Command
}

// teaflowInstance holds the service instance and its configuration so
// subcommands share a single initialized application.
type teaflowInstance struct {
	teaflow *teaflow.Teaflow
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service before any
// command runs.
func preRun(app *teaflowInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("teaflow.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newTeaflow, err := setupTeaflow(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.teaflow = newTeaflow
		app.cnf = cnf

		return nil
	}
}

// setupTeaflow connects the data source and builds the service instance.
func setupTeaflow(cfg *config.Configuration) (*teaflow.Teaflow, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newTeaflow, err := teaflow.NewTeaflow(db)
	if err != nil {
		return nil, fmt.Errorf("error creating teaflow: %v", err)
	}
	return newTeaflow, nil
}

// NewCLI creates the command-line interface for the Teaflow application.
func NewCLI() *Teaflow {
	var configFile string
	b := &teaflowInstance{}

	var rootCmd = &cobra.Command{
		Use:   "teaflow",
		Short: "Tea auction bid workflow server",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./teaflow.json", "Configuration file for teaflow")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(backupCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Teaflow{cmd: rootCmd}
}

func (w Teaflow) executeCLI() {
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
