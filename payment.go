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

package teaflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teaflowhq/teaflow/internal/apierror"
	"github.com/teaflowhq/teaflow/internal/notification"
	"github.com/teaflowhq/teaflow/internal/search"
	"github.com/teaflowhq/teaflow/model"
)

// detectFileType attempts to detect the file type based on its extension or content.
// If the file extension can identify the type, it returns that, otherwise, it inspects the content of the file.
func detectFileType(data []byte, filename string) (string, error) {
	if mimeType := detectByExtension(filename); mimeType != "" {
		return mimeType, nil
	}
	return detectByContent(data)
}

// detectByExtension detects the MIME type by the file extension.
func detectByExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return mime.TypeByExtension(ext)
}

// detectByContent detects the MIME type based on the content of the file.
func detectByContent(data []byte) (string, error) {
	mimeType := http.DetectContentType(data)

	switch mimeType {
	case "application/octet-stream", "text/plain":
		return analyzeTextContent(data)
	case "text/csv; charset=utf-8":
		return "text/csv", nil
	default:
		return mimeType, nil
	}
}

// analyzeTextContent further inspects text-based content to differentiate between CSV, JSON, or plain text.
func analyzeTextContent(data []byte) (string, error) {
	if looksLikeCSV(data) {
		return "text/csv", nil
	}
	if json.Valid(data) {
		return "application/json", nil
	}
	return "text/plain", nil
}

// looksLikeCSV checks whether the provided data looks like a CSV file.
// It checks for multiple lines and ensures they have the same number of fields.
func looksLikeCSV(data []byte) bool {
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) < 2 {
		return false
	}

	fields := bytes.Count(lines[0], []byte(",")) + 1
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		if bytes.Count(line, []byte(","))+1 != fields {
			return false
		}
	}

	return fields > 1
}

// parseFloat parses a string into a float64 value, returning 0 when the
// string is not a valid float.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseTime parses a statement timestamp. Banks export RFC3339 or plain
// dates; both are accepted.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// contains checks whether a slice contains a specific string.
func contains(slice []string, item string) bool {
	for _, a := range slice {
		if a == item {
			return true
		}
	}
	return false
}

// UploadBankStatement handles the process of uploading a bank statement
// by detecting file type, parsing, and storing the inflows it contains.
// Returns the upload ID and the number of inflows stored.
func (s *Teaflow) UploadBankStatement(ctx context.Context, source string, reader io.Reader, filename string) (string, int, error) {
	ctx, span := tracer.Start(ctx, "Uploading Bank Statement")
	defer span.End()

	uploadID := model.GenerateUUIDWithSuffix("upload")

	tempFile, err := s.createAndPopulateTempFile(filename, reader)
	if err != nil {
		return "", 0, err
	}
	defer s.cleanupTempFile(tempFile)

	fileType, err := s.detectFileTypeFromTempFile(tempFile, filename)
	if err != nil {
		return "", 0, err
	}

	total, err := s.parseAndStoreStatement(ctx, uploadID, source, tempFile, fileType)
	if err != nil {
		return "", 0, err
	}

	return uploadID, total, nil
}

// createAndPopulateTempFile creates a temporary file and writes the uploaded data to it.
func (s *Teaflow) createAndPopulateTempFile(filename string, reader io.Reader) (*os.File, error) {
	tempFile, err := s.createTempFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error creating temporary file: %w", err)
	}

	if _, err := io.Copy(tempFile, reader); err != nil {
		return nil, fmt.Errorf("error copying upload data: %w", err)
	}

	if _, err := tempFile.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("error seeking temporary file: %w", err)
	}

	return tempFile, nil
}

// detectFileTypeFromTempFile detects the file type by reading the first 512 bytes from the temporary file.
func (s *Teaflow) detectFileTypeFromTempFile(tempFile *os.File, filename string) (string, error) {
	header := make([]byte, 512)
	if _, err := tempFile.Read(header); err != nil && err != io.EOF {
		return "", fmt.Errorf("error reading file header: %w", err)
	}

	fileType, err := detectFileType(header, filename)
	if err != nil {
		return "", fmt.Errorf("error detecting file type: %w", err)
	}

	if _, err := tempFile.Seek(0, 0); err != nil {
		return "", fmt.Errorf("error seeking temporary file: %w", err)
	}

	return fileType, nil
}

// parseAndStoreStatement parses and stores inflows based on the file type (either CSV or JSON).
func (s *Teaflow) parseAndStoreStatement(ctx context.Context, uploadID, source string, reader io.Reader, fileType string) (int, error) {
	switch fileType {
	case "text/csv", "text/csv; charset=utf-8":
		return s.parseAndStoreCSV(ctx, uploadID, source, reader)
	case "application/json":
		return s.parseAndStoreJSON(ctx, uploadID, source, reader)
	default:
		return 0, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

// createTempFile creates a new temporary file for storing the uploaded data.
func (s *Teaflow) createTempFile(originalFilename string) (*os.File, error) {
	tempDir := filepath.Join(os.TempDir(), "teaflow_uploads")
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating temporary directory: %w", err)
	}

	prefix := fmt.Sprintf("%s_", filepath.Base(originalFilename))
	tempFile, err := os.CreateTemp(tempDir, prefix)
	if err != nil {
		return nil, fmt.Errorf("error creating temporary file: %w", err)
	}

	return tempFile, nil
}

// cleanupTempFile removes the specified temporary file from the filesystem.
func (s *Teaflow) cleanupTempFile(file *os.File) {
	if file != nil {
		filename := file.Name()
		file.Close()
		if err := os.Remove(filename); err != nil {
			log.Printf("Error removing temporary file %s: %v", filename, err)
		}
	}
}

// parseAndStoreCSV reads and processes a CSV statement from an io.Reader,
// parsing each row and storing the corresponding inflows. Returns the
// number of inflows stored.
func (s *Teaflow) parseAndStoreCSV(ctx context.Context, uploadID, source string, reader io.Reader) (int, error) {
	csvReader := csv.NewReader(bufio.NewReader(reader))

	headers, err := csvReader.Read()
	if err != nil {
		return 0, fmt.Errorf("error reading CSV headers: %w", err)
	}

	columnMap, err := createColumnMap(headers)
	if err != nil {
		return 0, err
	}

	return s.processCSVRows(ctx, uploadID, source, csvReader, columnMap)
}

// processCSVRows reads and processes each row in the CSV file, parsing
// the fields and storing the inflows. Rows that fail to parse are
// collected and reported together; one bad row never aborts the upload.
func (s *Teaflow) processCSVRows(ctx context.Context, uploadID, source string, csvReader *csv.Reader, columnMap map[string]int) (int, error) {
	var errs []error
	stored := 0
	rowNum := 1 // Row number starts at 1 to account for the header row.

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("error reading row %d: %w", rowNum, err))
			continue
		}

		rowNum++

		inflow, err := parseInflowRecord(record, columnMap, source)
		if err != nil {
			errs = append(errs, fmt.Errorf("error parsing row %d: %w", rowNum, err))
			continue
		}

		if err := s.storeInflow(ctx, uploadID, inflow); err != nil {
			errs = append(errs, fmt.Errorf("error storing inflow from row %d: %w", rowNum, err))
			continue
		}
		stored++

		// Check for context cancellation every 1000 rows.
		if rowNum%1000 == 0 {
			select {
			case <-ctx.Done():
				return stored, ctx.Err()
			default:
			}
		}
	}

	if len(errs) > 0 {
		return stored, fmt.Errorf("encountered %d errors while processing CSV: %v", len(errs), errs)
	}

	return stored, nil
}

// createColumnMap creates a map of column names to their indices based on
// the headers row of a CSV statement. Amount, Date and Payer_Name must be
// present; reference columns are optional because not every bank exports
// them.
func createColumnMap(headers []string) (map[string]int, error) {
	requiredColumns := []string{"Amount", "Date", "Payer_Name"}
	columnMap := make(map[string]int)

	for i, header := range headers {
		columnMap[strings.ToLower(strings.TrimSpace(header))] = i
	}

	for _, col := range requiredColumns {
		if _, exists := columnMap[strings.ToLower(col)]; !exists {
			return nil, fmt.Errorf("required column '%s' not found in CSV", col)
		}
	}

	return columnMap, nil
}

// parseInflowRecord parses a row of the CSV statement into a PaymentInflow.
func parseInflowRecord(record []string, columnMap map[string]int, source string) (model.PaymentInflow, error) {
	if len(record) != len(columnMap) {
		return model.PaymentInflow{}, fmt.Errorf("incorrect number of fields in record")
	}

	amountStr, err := getRequiredField(record, columnMap, "amount")
	if err != nil {
		return model.PaymentInflow{}, err
	}
	amount := parseFloat(amountStr)
	if amount <= 0 {
		return model.PaymentInflow{}, fmt.Errorf("invalid amount: %s", amountStr)
	}

	payerName, err := getRequiredField(record, columnMap, "payer_name")
	if err != nil {
		return model.PaymentInflow{}, err
	}

	dateStr, err := getRequiredField(record, columnMap, "date")
	if err != nil {
		return model.PaymentInflow{}, err
	}
	date := parseTime(dateStr)
	if date.IsZero() {
		return model.PaymentInflow{}, fmt.Errorf("invalid date: %s", dateStr)
	}

	return model.PaymentInflow{
		Amount:        amount,
		Currency:      getOptionalField(record, columnMap, "currency"),
		PayerName:     payerName,
		Reference:     getOptionalField(record, columnMap, "reference"),
		BankReference: getOptionalField(record, columnMap, "bank_reference"),
		Date:          date,
		Source:        source,
	}, nil
}

// getRequiredField retrieves a field from a CSV record, ensuring it is not empty.
func getRequiredField(record []string, columnMap map[string]int, field string) (string, error) {
	if index, exists := columnMap[field]; exists && index < len(record) {
		value := strings.TrimSpace(record[index])
		if value == "" {
			return "", fmt.Errorf("required field '%s' is empty", field)
		}
		return value, nil
	}
	return "", fmt.Errorf("required field '%s' not found in record", field)
}

func getOptionalField(record []string, columnMap map[string]int, field string) string {
	if index, exists := columnMap[field]; exists && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}

// parseAndStoreJSON parses and stores inflows from a JSON statement.
func (s *Teaflow) parseAndStoreJSON(ctx context.Context, uploadID, source string, reader io.Reader) (int, error) {
	decoder := json.NewDecoder(reader)
	var inflows []model.PaymentInflow
	if err := decoder.Decode(&inflows); err != nil {
		return 0, err
	}

	for _, inflow := range inflows {
		inflow.Source = source
		if err := s.storeInflow(ctx, uploadID, inflow); err != nil {
			return 0, err
		}
	}

	return len(inflows), nil
}

// storeInflow assigns identity and initial status to a parsed inflow,
// stores it and queues it for search indexing.
func (s *Teaflow) storeInflow(ctx context.Context, uploadID string, inflow model.PaymentInflow) error {
	inflow.InflowID = model.GenerateUUIDWithSuffix("inflow")
	inflow.UploadID = uploadID
	inflow.Status = model.InflowUnmatched

	if err := s.datasource.RecordInflow(ctx, &inflow); err != nil {
		return err
	}
	if err := s.queue.queueIndexData(inflow.InflowID, search.CollectionInflows, inflow); err != nil {
		notification.NotifyError(err)
	}
	return nil
}

// RecordInflow stores a single inflow recorded directly, outside any
// statement upload.
func (s *Teaflow) RecordInflow(ctx context.Context, inflow *model.PaymentInflow) (*model.PaymentInflow, error) {
	if inflow.Amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Inflow amount must be positive", nil)
	}
	if inflow.Date.IsZero() {
		inflow.Date = time.Now()
	}

	inflow.InflowID = model.GenerateUUIDWithSuffix("inflow")
	inflow.Status = model.InflowUnmatched
	if err := s.datasource.RecordInflow(ctx, inflow); err != nil {
		return nil, err
	}
	if err := s.queue.queueIndexData(inflow.InflowID, search.CollectionInflows, inflow); err != nil {
		notification.NotifyError(err)
	}
	return inflow, nil
}

// GetInflow retrieves an inflow by its public ID.
func (s *Teaflow) GetInflow(ctx context.Context, id string) (*model.PaymentInflow, error) {
	return s.datasource.GetInflowByID(ctx, id)
}

// ListUploadInflows retrieves the inflows stored under one statement
// upload, paginated in statement order.
func (s *Teaflow) ListUploadInflows(ctx context.Context, uploadID string, limit int, offset int64) ([]*model.PaymentInflow, error) {
	return s.datasource.GetInflowsPaginated(ctx, uploadID, limit, offset)
}

// SuggestMatches runs the built-in heuristic over every unmatched inflow
// and every bid awaiting payment, then sweeps the remaining pairs with
// the operator-defined matching rules, and returns the ranked
// suggestions. Rule-only matches carry the threshold confidence, so they
// rank below every pair the heuristic scored higher. It never writes;
// confirming a suggestion is ConfirmMatch's job.
func (s *Teaflow) SuggestMatches(ctx context.Context) ([]model.MatchSuggestion, error) {
	ctx, span := tracer.Start(ctx, "Suggesting Payment Matches")
	defer span.End()

	inflows, err := s.datasource.GetUnmatchedInflows(ctx)
	if err != nil {
		return nil, err
	}
	bids, err := s.datasource.GetOutstandingBids(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := s.datasource.GetMatchingRules(ctx)
	if err != nil {
		return nil, err
	}

	suggestions := AutoMatchPayments(inflows, bids)
	if len(rules) == 0 {
		return suggestions, nil
	}

	ruleValues := make([]model.MatchingRule, 0, len(rules))
	for _, r := range rules {
		ruleValues = append(ruleValues, *r)
	}

	suggested := make(map[string]bool, len(suggestions))
	for _, sg := range suggestions {
		suggested[sg.InflowID+":"+sg.BidID] = true
	}
	for _, inflow := range inflows {
		if inflow.Status != model.InflowUnmatched {
			continue
		}
		for _, bid := range bids {
			if suggested[inflow.InflowID+":"+bid.BidID] {
				continue
			}
			if s.matchesRules(inflow, bid, ruleValues) {
				suggestions = append(suggestions, model.MatchSuggestion{
					InflowID:   inflow.InflowID,
					BidID:      bid.BidID,
					Confidence: matchThreshold,
				})
			}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	return suggestions, nil
}

// ConfirmMatch applies a suggested (or manually chosen) match: the inflow
// is marked matched and its amount is applied to the bid's payment
// sub-record.
func (s *Teaflow) ConfirmMatch(ctx context.Context, inflowID, bidID string) (*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Confirming Payment Match")
	defer span.End()

	inflow, err := s.datasource.GetInflowByID(ctx, inflowID)
	if err != nil {
		return nil, err
	}
	if inflow.Status != model.InflowUnmatched {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Inflow is not unmatched", nil)
	}

	bid, err := s.RecordPaymentReceipt(ctx, bidID, inflow.Amount)
	if err != nil {
		return nil, err
	}

	if err := s.datasource.UpdateInflowStatus(ctx, inflowID, model.InflowMatched, bidID); err != nil {
		return nil, err
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: "inflow.matched", Payload: inflow}); err != nil {
			notification.NotifyError(err)
		}
	}()
	return bid, nil
}

// UnmatchInflow undoes a confirmed match: the inflow returns to the
// unmatched pool and its amount is subtracted from the bid's payment
// sub-record.
func (s *Teaflow) UnmatchInflow(ctx context.Context, inflowID string) (*model.PaymentInflow, error) {
	ctx, span := tracer.Start(ctx, "Unmatching Inflow")
	defer span.End()

	inflow, err := s.datasource.GetInflowByID(ctx, inflowID)
	if err != nil {
		return nil, err
	}
	if inflow.Status != model.InflowMatched || inflow.MatchedBidID == "" {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Inflow is not matched", nil)
	}

	bid, err := s.datasource.GetBidByID(ctx, inflow.MatchedBidID)
	if err != nil {
		return nil, err
	}
	if bid.Payment != nil {
		bid.Payment.ReceivedAmount -= inflow.Amount
		if bid.Payment.ReceivedAmount < 0 {
			bid.Payment.ReceivedAmount = 0
		}
		if bid.Payment.ReceivedAmount == 0 {
			bid.Payment.Status = model.PaymentPending
		} else if bid.Payment.ReceivedAmount < bid.Payment.ExpectedAmount {
			bid.Payment.Status = model.PaymentPartial
		}
		if err := s.datasource.UpdateBidDetails(ctx, bid); err != nil {
			return nil, err
		}
	}

	if err := s.datasource.UpdateInflowStatus(ctx, inflowID, model.InflowUnmatched, ""); err != nil {
		return nil, err
	}

	inflow.Status = model.InflowUnmatched
	inflow.MatchedBidID = ""
	go func() {
		if err := SendWebhook(NewWebhook{Event: "inflow.unmatched", Payload: inflow}); err != nil {
			notification.NotifyError(err)
		}
	}()
	return inflow, nil
}

// CreateMatchingRule validates and stores an operator-defined matching rule.
func (s *Teaflow) CreateMatchingRule(ctx context.Context, rule model.MatchingRule) (*model.MatchingRule, error) {
	ctx, span := tracer.Start(ctx, "Creating Matching Rule")
	defer span.End()

	rule.RuleID = model.GenerateUUIDWithSuffix("rule")
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()

	if err := s.validateRule(&rule); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	if err := s.datasource.RecordMatchingRule(ctx, &rule); err != nil {
		return nil, err
	}
	if err := s.queue.queueIndexData(rule.RuleID, search.CollectionMatchingRules, rule); err != nil {
		notification.NotifyError(err)
	}
	return &rule, nil
}

// GetMatchingRule retrieves a matching rule by its ID.
func (s *Teaflow) GetMatchingRule(ctx context.Context, id string) (*model.MatchingRule, error) {
	return s.datasource.GetMatchingRule(ctx, id)
}

// ListMatchingRules retrieves all matching rules.
func (s *Teaflow) ListMatchingRules(ctx context.Context) ([]*model.MatchingRule, error) {
	return s.datasource.GetMatchingRules(ctx)
}

// UpdateMatchingRule validates and updates an existing matching rule.
func (s *Teaflow) UpdateMatchingRule(ctx context.Context, rule model.MatchingRule) (*model.MatchingRule, error) {
	existing, err := s.datasource.GetMatchingRule(ctx, rule.RuleID)
	if err != nil {
		return nil, err
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()

	if err := s.validateRule(&rule); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	if err := s.datasource.UpdateMatchingRule(ctx, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// DeleteMatchingRule removes a matching rule.
func (s *Teaflow) DeleteMatchingRule(ctx context.Context, id string) error {
	return s.datasource.DeleteMatchingRule(ctx, id)
}

// validateRule checks the basic structure of a rule and each of its criteria.
func (s *Teaflow) validateRule(rule *model.MatchingRule) error {
	if err := s.validateRuleBasics(rule); err != nil {
		return err
	}

	for _, criteria := range rule.Criteria {
		if err := s.validateCriteria(criteria); err != nil {
			return err
		}
	}

	return nil
}

// validateRuleBasics checks that the rule has a valid name and at least one criterion.
func (s *Teaflow) validateRuleBasics(rule *model.MatchingRule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}

	if len(rule.Criteria) == 0 {
		return fmt.Errorf("at least one matching criteria is required")
	}

	return nil
}

// validateCriteria checks the validity of a criterion, including its field, operator, and drift values.
func (s *Teaflow) validateCriteria(criteria model.MatchingCriteria) error {
	if criteria.Field == "" || criteria.Operator == "" {
		return fmt.Errorf("field and operator are required for each criteria")
	}

	validOperators := []string{"equals", "greater_than", "less_than", "contains", "after", "before"}
	if !contains(validOperators, criteria.Operator) {
		return fmt.Errorf("invalid operator")
	}

	validFields := []string{"amount", "date", "payer_name", "reference", "currency"}
	if !contains(validFields, criteria.Field) {
		return fmt.Errorf("invalid field")
	}

	return s.validateDrift(criteria)
}

// validateDrift checks the allowable drift for the given field and operator.
// Drift is a fraction of the bid amount for amount fields and seconds for date fields.
func (s *Teaflow) validateDrift(criteria model.MatchingCriteria) error {
	if criteria.Operator == "equals" {
		switch criteria.Field {
		case "amount":
			if criteria.AllowableDrift < 0 || criteria.AllowableDrift > 1 {
				return fmt.Errorf("drift for amount must be between 0 and 1 (fraction of bid amount)")
			}
		case "date":
			if criteria.AllowableDrift < 0 {
				return fmt.Errorf("drift for date must be non-negative (seconds)")
			}
		}
	}
	return nil
}
