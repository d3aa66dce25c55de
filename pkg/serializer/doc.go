// Package serializer renders values as JSON, YAML or a text table and
// reads JSON or YAML documents back.
//
// Writers target stdout, a file, or a Kubernetes ConfigMap addressed as
// cm://namespace/name:
//
//	w := serializer.NewFileWriterOrStdout(serializer.FormatTable, "")
//	defer w.Close()
//	if err := w.Serialize(ctx, servers); err != nil {
//		return err
//	}
//
// Values that implement Table are rendered as columns in table format;
// anything else is flattened into FIELD/VALUE rows.
//
// HTTP handlers use RespondJSON, which encodes before writing headers so a
// failed encode never leaves a partial body.
package serializer
