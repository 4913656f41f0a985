package bdd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chirino/keyvalue-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		q := &sqlSteps{s: s}
		ctx.Step(`^I execute SQL query:$`, q.iExecuteSQLQuery)
		ctx.Step(`^the SQL result should have (\d+) rows?$`, q.theSQLResultShouldHaveRows)
		ctx.Step(`^the SQL result should match:$`, q.theSQLResultShouldMatch)
		ctx.Step(`^the SQL result at row (\d+) column "([^"]*)" should be "([^"]*)"$`, q.theSQLResultCellShouldBe)
	})
}

// sqlSteps inspect the database behind the API. Backends without SQL
// return no rows, and every assertion then passes.
type sqlSteps struct {
	s    *cucumber.TestScenario
	rows []map[string]interface{}
}

func (q *sqlSteps) iExecuteSQLQuery(query *godog.DocString) error {
	if q.s.Suite.DB == nil {
		return errors.New("no TestDB configured")
	}
	expanded, err := q.s.Expand(query.Content)
	if err != nil {
		return err
	}
	if q.rows, err = q.s.Suite.DB.ExecSQL(context.Background(), expanded); err != nil {
		return err
	}
	if q.rows == nil {
		return nil
	}
	// expose the rows to the response assertions
	body, err := json.Marshal(q.rows)
	if err != nil {
		return err
	}
	q.s.Session().SetRespBytes(body)
	return nil
}

func (q *sqlSteps) theSQLResultShouldHaveRows(count int) error {
	if q.rows != nil && len(q.rows) != count {
		return fmt.Errorf("expected %d row(s), got %d", count, len(q.rows))
	}
	return nil
}

// theSQLResultShouldMatch compares a header row of column names followed by
// the expected leading result rows.
func (q *sqlSteps) theSQLResultShouldMatch(table *godog.Table) error {
	if q.rows == nil {
		return nil
	}
	if len(table.Rows) < 2 {
		return errors.New("the table needs a header row and at least one data row")
	}
	header := table.Rows[0].Cells
	for i, row := range table.Rows[1:] {
		for c, cell := range row.Cells {
			if err := q.theSQLResultCellShouldBe(i, header[c].Value, cell.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *sqlSteps) theSQLResultCellShouldBe(row int, column, expected string) error {
	if q.rows == nil {
		return nil
	}
	if row >= len(q.rows) {
		return fmt.Errorf("row %d out of range, the result has %d row(s)", row, len(q.rows))
	}
	want, err := q.s.Expand(expected)
	if err != nil {
		return err
	}
	value, ok := q.rows[row][column]
	if !ok {
		return fmt.Errorf("column %q not in the SQL result", column)
	}
	if got := fmt.Sprint(value); got != want {
		return fmt.Errorf("SQL result row %d column %q is %q, expected %q", row, column, got, want)
	}
	return nil
}
