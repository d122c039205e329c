package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func printJSON(w io.Writer, out *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printAlerts(w io.Writer, out *structpb.Struct) {
	alerts := out.GetFields()["alerts"].GetListValue().GetValues()
	if len(alerts) == 0 {
		warningColor.Fprintln(w, "No alerts found")
		return
	}

	headerColor.Fprintf(w, "%d alert(s)\n", len(alerts))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSEVERITY\tSTATUS\tNAME\tUSER")
	for _, v := range alerts {
		f := v.GetStructValue().GetFields()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f["ID"].GetStringValue(),
			f["Time"].GetStringValue(),
			severityColor(f["Severity"].GetStringValue()).Sprint(f["Severity"].GetStringValue()),
			f["Status"].GetStringValue(),
			f["Name"].GetStringValue(),
			f["UserName"].GetStringValue(),
		)
	}
	tw.Flush()
}

func printEvents(w io.Writer, out *structpb.Struct) {
	events := out.GetFields()["events"].GetListValue().GetValues()
	if len(events) == 0 {
		warningColor.Fprintln(w, "No events found")
		return
	}

	headerColor.Fprintf(w, "%d event(s)\n", len(events))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME (UTC)\tTYPE\tUSER\tOBJECT")
	for _, v := range events {
		f := v.GetStructValue().GetFields()
		by := f["By"].GetStructValue().GetFields()
		obj := f["OnObject"].GetStructValue().GetFields()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f["ID"].GetStringValue(),
			f["TimeUTC"].GetStringValue(),
			f["Type"].GetStringValue(),
			by["SamAccountName"].GetStringValue(),
			infoColor.Sprint(obj["Path"].GetStringValue()),
		)
	}
	tw.Flush()
}

func severityColor(severity string) *color.Color {
	switch strings.ToLower(severity) {
	case "high", "critical":
		return errorColor
	case "medium":
		return warningColor
	}
	return infoColor
}
