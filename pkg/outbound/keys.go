package outbound

import "fmt"

// Singleton keys are built from domain identifiers so a caller's network
// retry of the same logical send can never produce a duplicate outbound
// message: a second enqueue under the same key returns the existing job.

func messageKey(caseID, messageID int64) string {
	return fmt.Sprintf("case:%d:message:%d", caseID, messageID)
}

func botNodeKey(caseID int64, nodeID string) string {
	return fmt.Sprintf("case:%d:node:%s", caseID, nodeID)
}

func refundKey(paymentID string) string {
	return fmt.Sprintf("refund:%s", paymentID)
}
